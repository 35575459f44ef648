// Package handler 提供 slog 控制台处理器
package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
)

// ANSI 颜色代码
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

// ConsoleHandler 控制台日志处理器
// 输出格式：LEVEL time [module/component] message key=value ...
type ConsoleHandler struct {
	opts   slog.HandlerOptions
	mu     *sync.Mutex
	out    io.Writer
	color  bool
	attrs  []slog.Attr
	groups []string
}

// NewConsoleHandler 创建控制台处理器
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions, color bool) *ConsoleHandler {
	h := &ConsoleHandler{
		mu:    &sync.Mutex{},
		out:   out,
		color: color,
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

// Enabled 检查日志级别是否启用
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle 处理日志记录
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var module, component string
	var rest []slog.Attr

	collect := func(a slog.Attr) {
		switch a.Key {
		case "module":
			module = a.Value.String()
		case "component":
			component = a.Value.String()
		case "service":
			// 控制台输出省略服务名
		default:
			rest = append(rest, a)
		}
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(h.qualify(a))
		return true
	})

	var buf bytes.Buffer
	buf.WriteString(h.paint(levelColor(r.Level), fmt.Sprintf("%-5s", r.Level.String())))
	buf.WriteByte(' ')
	buf.WriteString(h.paint(colorGray, r.Time.Format("2006-01-02T15:04:05.000Z07:00")))

	if module != "" && component != "" {
		fmt.Fprintf(&buf, " [%s/%s]", module, component)
	} else if module != "" {
		fmt.Fprintf(&buf, " [%s]", module)
	}

	buf.WriteByte(' ')
	buf.WriteString(r.Message)

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			fmt.Fprintf(&buf, " %s", h.paint(colorGray, fmt.Sprintf("(%s:%d)", filepath.Base(frame.File), frame.Line)))
		}
	}

	for _, a := range rest {
		fmt.Fprintf(&buf, " %s=%v", a.Key, a.Value.Resolve())
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

// WithAttrs 返回带有额外属性的处理器
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, h.qualify(a))
	}
	return &clone
}

// WithGroup 返回带有分组的处理器
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

// qualify 为属性加上分组前缀
func (h *ConsoleHandler) qualify(a slog.Attr) slog.Attr {
	for i := len(h.groups) - 1; i >= 0; i-- {
		a.Key = h.groups[i] + "." + a.Key
	}
	return a
}

func (h *ConsoleHandler) paint(color, s string) string {
	if !h.color {
		return s
	}
	return color + s + colorReset
}

// levelColor 返回日志级别对应的颜色
func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorGreen
	default:
		return colorBlue
	}
}
