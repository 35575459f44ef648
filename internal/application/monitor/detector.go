package monitor

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"

	domainMonitor "github.com/chatwatch/backend/internal/domain/monitor"
	"github.com/chatwatch/backend/internal/infrastructure/log"
)

// DefaultDuplicateThreshold 默认相似度阈值
const DefaultDuplicateThreshold = 0.85

// Detector 重复话题检测
// 只读：不写存储，不调用推理服务
type Detector struct {
	rt        *Runtime
	threshold atomic.Uint64 // math.Float64bits
	logger    *slog.Logger
}

// NewDetector 创建检测器
func NewDetector(rt *Runtime, threshold float64) *Detector {
	d := &Detector{
		rt:     rt,
		logger: log.NewModuleLogger("monitor", "detector"),
	}
	d.SetThreshold(threshold)
	return d
}

// Threshold 当前阈值
func (d *Detector) Threshold() float64 {
	return math.Float64frombits(d.threshold.Load())
}

// SetThreshold 修改阈值，非法值回退到默认值
func (d *Detector) SetThreshold(threshold float64) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDuplicateThreshold
	}
	d.threshold.Store(math.Float64bits(threshold))
}

// Detect 计算会话质心并按相似度聚类
// 相似度严格大于阈值的两个会话被合并，结果按 ID 排序
func (d *Detector) Detect(ctx context.Context) ([]*domainMonitor.DuplicateCluster, error) {
	accs := make(map[int64]*domainMonitor.CentroidAccumulator)
	err := d.rt.Messages.ForEachEmbedding(ctx, func(conversationID int64, embedding []float32) error {
		acc, ok := accs[conversationID]
		if !ok {
			acc = &domainMonitor.CentroidAccumulator{}
			accs[conversationID] = acc
		}
		acc.Add(embedding)
		return ctx.Err()
	})
	if err != nil {
		return nil, domainMonitor.NewError(domainMonitor.KindStorageFailure, "detect", 0, err)
	}

	ids := make([]int64, 0, len(accs))
	centroids := make(map[int64][]float32, len(accs))
	for id, acc := range accs {
		if c := acc.Centroid(); c != nil {
			ids = append(ids, id)
			centroids[id] = c
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	groups := ClusterCentroids(ids, centroids, d.Threshold())
	if len(groups) == 0 {
		return nil, nil
	}

	names := d.names(ctx)
	clusters := make([]*domainMonitor.DuplicateCluster, len(groups))
	for i, g := range groups {
		c := &domainMonitor.DuplicateCluster{ConversationIDs: g, Names: make([]string, len(g))}
		for j, id := range g {
			c.Names[j] = names[id]
		}
		clusters[i] = c
	}

	log.FromContext(ctx, d.logger).Info("Duplicate detection finished",
		"conversations", len(ids),
		"clusters", len(clusters),
		"threshold", d.Threshold(),
	)
	return clusters, nil
}

// names 会话展示名称，读取失败时返回空表
func (d *Detector) names(ctx context.Context) map[int64]string {
	names := make(map[int64]string)
	convs, err := d.rt.Conversations.List(ctx)
	if err != nil {
		d.logger.Warn("Failed to load conversation names", "error", err)
		return names
	}
	for _, c := range convs {
		names[c.ID] = c.Name()
	}
	return names
}

// ClusterCentroids 对两两相似度超过阈值的会话做并查集合并
// ids 必须已升序；返回的每个簇至少两个成员，簇内升序，簇之间按首元素升序
func ClusterCentroids(ids []int64, centroids map[int64][]float32, threshold float64) [][]int64 {
	uf := newUnionFind(len(ids))
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if domainMonitor.Cosine(centroids[ids[i]], centroids[ids[j]]) > threshold {
				uf.union(i, j)
			}
		}
	}

	byRoot := make(map[int][]int64)
	for i, id := range ids {
		root := uf.find(i)
		byRoot[root] = append(byRoot[root], id)
	}

	var groups [][]int64
	for _, g := range byRoot {
		if len(g) >= 2 {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

// unionFind 带路径压缩和按秩合并的并查集
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
