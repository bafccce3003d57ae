package commenttree

import (
	"encoding/json"
	"fmt"

	"github.com/nao1215/tankwiki/pkg/apperr"
)

const (
	// DeletedSentinel は削除済みの本文・投稿者の代わりに表示する値。
	DeletedSentinel = "[deleted]"
	// DefaultRootMarker はルートコメントの親IDとして使われる値。
	DefaultRootMarker int64 = -1
	// DefaultMaxDepth はツリーの最大の深さ。
	DefaultMaxDepth = 512
)

// Node は組み立て済みのコメント。リクエストごとに生成し、永続化しない。
type Node struct {
	ID int64
	// UserID は投稿者のID。nil の場合は DeletedSentinel として出力する。
	UserID    *int64
	Content   string
	CreatedAt string
	UpdatedAt string
	Children  []*Node
}

// MarshalJSON は userId を数値または DeletedSentinel として出力する。
// children は空でも配列として出力する。
func (n *Node) MarshalJSON() ([]byte, error) {
	var userID any = DeletedSentinel
	if n.UserID != nil {
		userID = *n.UserID
	}
	children := n.Children
	if children == nil {
		children = []*Node{}
	}
	return json.Marshal(struct {
		ID        int64   `json:"id"`
		UserID    any     `json:"userId"`
		Content   string  `json:"content"`
		CreatedAt string  `json:"createdAt"`
		UpdatedAt string  `json:"updatedAt"`
		Children  []*Node `json:"children"`
	}{
		ID:        n.ID,
		UserID:    userID,
		Content:   n.Content,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
		Children:  children,
	})
}

// Option は Build の動作を変更する関数。
type Option func(*builder)

// WithMaxDepth はツリーの最大の深さを設定する。0 は無制限。
func WithMaxDepth(depth int) Option {
	return func(b *builder) {
		if depth >= 0 {
			b.maxDepth = depth
		}
	}
}

type builder struct {
	rootMarker int64
	maxDepth   int
}

// Build はフラットな行からコメントツリーを組み立てる。
//
// 親IDが nil または rootMarker の行をルートとし、子の順序は入力の順序を保つ。
// 重複ID・自己参照・循環、または最大の深さの超過は apperr.KindMalformedTree のエラーになる。
// 親が行の中に存在しないコメント（およびその子孫）はツリーに含めない。
func Build(rows []Row, rootMarker int64, opts ...Option) ([]*Node, error) {
	b := &builder{rootMarker: rootMarker, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(b)
	}
	return b.build(rows)
}

func (b *builder) isRoot(r Row) bool {
	return r.ParentID == nil || *r.ParentID == b.rootMarker
}

func (b *builder) build(rows []Row) ([]*Node, error) {
	index := make(map[int64]int, len(rows))
	children := make(map[int64][]int)
	var roots []int

	for i, r := range rows {
		if _, dup := index[r.ID]; dup {
			return nil, malformed("duplicate_id", r.ID)
		}
		index[r.ID] = i

		if b.isRoot(r) {
			roots = append(roots, i)
			continue
		}
		if *r.ParentID == r.ID {
			return nil, malformed("self_reference", r.ID)
		}
		children[*r.ParentID] = append(children[*r.ParentID], i)
	}

	type frame struct {
		idx   int
		node  *Node
		depth int
	}

	visited := make([]bool, len(rows))
	result := make([]*Node, 0, len(roots))
	stack := make([]frame, 0, len(roots))
	for _, i := range roots {
		n := materialize(rows[i])
		result = append(result, n)
		visited[i] = true
		stack = append(stack, frame{idx: i, node: n, depth: 1})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if b.maxDepth > 0 && f.depth > b.maxDepth {
			return nil, malformed("max_depth_exceeded", rows[f.idx].ID)
		}

		kids := children[rows[f.idx].ID]
		if len(kids) == 0 {
			continue
		}
		f.node.Children = make([]*Node, 0, len(kids))
		for _, c := range kids {
			if visited[c] {
				return nil, malformed("cycle", rows[c].ID)
			}
			visited[c] = true
			n := materialize(rows[c])
			f.node.Children = append(f.node.Children, n)
			stack = append(stack, frame{idx: c, node: n, depth: f.depth + 1})
		}
	}

	if err := b.checkUnreached(rows, index, visited); err != nil {
		return nil, err
	}
	return result, nil
}

// checkUnreached はルートから辿れなかった行の親を辿り、循環があればエラーを返す。
// 存在しない親で終わる行は孤立したコメントとして無視する。
func (b *builder) checkUnreached(rows []Row, index map[int64]int, visited []bool) error {
	const (
		unknown = iota
		walking
		orphan
	)
	state := make([]int, len(rows))

	for start := range rows {
		if visited[start] || state[start] != unknown {
			continue
		}

		var path []int
		i := start
		for {
			if state[i] == walking {
				return malformed("cycle", rows[i].ID)
			}
			if state[i] == orphan || visited[i] {
				break
			}
			state[i] = walking
			path = append(path, i)

			r := rows[i]
			if b.isRoot(r) {
				break
			}
			p, ok := index[*r.ParentID]
			if !ok {
				break
			}
			i = p
		}
		for _, j := range path {
			state[j] = orphan
		}
	}
	return nil
}

// materialize は行をノードに変換し、削除済みの値を置き換える。
func materialize(r Row) *Node {
	n := &Node{
		ID:        r.ID,
		UserID:    r.UserID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.IsDeleted {
		n.Content = DeletedSentinel
	}
	return n
}

func malformed(reason string, id int64) error {
	return &apperr.Error{
		Kind:   apperr.KindMalformedTree,
		Reason: reason,
		Err:    fmt.Errorf("comment id=%d", id),
	}
}

// Edge はツリーを平坦化したときの (ID, 親ID) の組。ルートの親IDは nil。
type Edge struct {
	ID       int64
	ParentID *int64
}

// Flatten はツリーを行きがけ順で平坦化する。
func Flatten(nodes []*Node) []Edge {
	type frame struct {
		node   *Node
		parent *int64
	}

	var edges []Edge
	stack := make([]frame, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: nodes[i]})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		edges = append(edges, Edge{ID: f.node.ID, ParentID: f.parent})
		id := f.node.ID
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Children[i], parent: &id})
		}
	}
	return edges
}
