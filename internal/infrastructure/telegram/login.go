package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chatwatch/backend/internal/infrastructure/config"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// terminalAuth 从终端读取登录信息
type terminalAuth struct {
	in  *bufio.Reader
	out io.Writer
}

var _ auth.UserAuthenticator = (*terminalAuth)(nil)

func (a *terminalAuth) ask(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *terminalAuth) Phone(_ context.Context) (string, error) {
	return a.ask("Enter your phone number (international format): ")
}

func (a *terminalAuth) Password(_ context.Context) (string, error) {
	return a.ask("Enter your 2FA password: ")
}

func (a *terminalAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return a.ask("Enter the login code you received: ")
}

func (a *terminalAuth) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

func (a *terminalAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up is not supported, use an existing account")
}

// Login 交互式登录并把会话写入会话文件
func Login(ctx context.Context, cfg *config.TelegramConfig, in io.Reader, out io.Writer) error {
	if err := config.EnsureDir(cfg.SessionPath); err != nil {
		return err
	}
	client := telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionPath},
		NoUpdates:      true,
		Middlewares:    []telegram.Middleware{SilentGuard()},
	})

	authenticator := &terminalAuth{in: bufio.NewReader(in), out: out}
	return client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(authenticator, auth.SendCodeOptions{})
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Fprintln(out, "Logged in, session saved to", cfg.SessionPath)
		return nil
	})
}
