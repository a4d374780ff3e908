// Package forum turns flat message rows into the shapes clients read: ranked
// reply trees for a thread and ranked thread listings for a forum.
package forum

import (
	"sort"
	"time"

	"agora/api/internal/store"
)

const (
	DeletedContent = "[This message is deleted]"
	UnknownAuthor  = "Unknown"
)

// Node is one message in a reply tree.
type Node struct {
	ID               string    `json:"id"`
	ThreadID         string    `json:"threadId"`
	AuthorID         string    `json:"authorId,omitempty"`
	AuthorName       string    `json:"authorName"`
	AuthorProfilePic *string   `json:"authorProfilePic"`
	Content          string    `json:"content"`
	ImageURL         *string   `json:"imageUrl"`
	ParentID         *string   `json:"parentId"`
	CreatedAt        time.Time `json:"createdAt"`
	Likes            []string  `json:"likes"`
	Dislikes         []string  `json:"dislikes"`
	LikeCount        int       `json:"likeCount"`
	DislikeCount     int       `json:"dislikeCount"`
	IsPlaceholder    bool      `json:"isPlaceholder,omitempty"`
	Replies          []*Node   `json:"replies"`
}

// NodeFromView converts a stored message into a tree node with no replies.
func NodeFromView(v store.MessageView) *Node {
	authorName := v.AuthorName
	if authorName == "" {
		authorName = UnknownAuthor
	}
	return &Node{
		ID:               v.ID,
		ThreadID:         v.ThreadID,
		AuthorID:         v.AuthorID,
		AuthorName:       authorName,
		AuthorProfilePic: v.AuthorProfilePic,
		Content:          v.Content,
		ImageURL:         v.ImageURL,
		ParentID:         v.ParentID,
		CreatedAt:        v.CreatedAt,
		Likes:            nonNil(v.Likes),
		Dislikes:         nonNil(v.Dislikes),
		LikeCount:        v.LikeCount,
		DislikeCount:     v.DislikeCount,
		Replies:          []*Node{},
	}
}

func placeholder(id string, orphan *Node) *Node {
	return &Node{
		ID:            id,
		ThreadID:      orphan.ThreadID,
		AuthorName:    UnknownAuthor,
		Content:       DeletedContent,
		CreatedAt:     orphan.CreatedAt,
		Likes:         []string{},
		Dislikes:      []string{},
		IsPlaceholder: true,
		Replies:       []*Node{},
	}
}

// BuildTree nests messages under their parents and ranks every level.
//
// A reply whose parent is not in msgs hangs off a placeholder root that
// stands in for the missing parent; all replies to the same missing parent
// share one placeholder. Messages that are their own ancestor never reach a
// root and are dropped. Traversal is iterative so depth is unbounded.
func BuildTree(msgs []store.MessageView) []*Node {
	index := make(map[string]*Node, len(msgs))
	nodes := make([]*Node, 0, len(msgs))
	for _, msg := range msgs {
		if _, dup := index[msg.ID]; dup {
			continue
		}
		node := NodeFromView(msg)
		index[node.ID] = node
		nodes = append(nodes, node)
	}

	roots := make([]*Node, 0)
	for _, node := range nodes {
		if node.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parentID := *node.ParentID
		parent, ok := index[parentID]
		if !ok {
			parent = placeholder(parentID, node)
			index[parentID] = parent
			roots = append(roots, parent)
		}
		parent.Replies = append(parent.Replies, node)
	}

	SortTree(roots)
	return roots
}

// SortTree orders roots and every nested replies list by like count, then
// newest first. Equal keys keep their input order.
func SortTree(roots []*Node) {
	sortLevel(roots)
	stack := append([]*Node(nil), roots...)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		sortLevel(node.Replies)
		stack = append(stack, node.Replies...)
	}
}

func sortLevel(level []*Node) {
	sort.SliceStable(level, func(i, j int) bool {
		return ranksBefore(level[i].LikeCount, level[i].CreatedAt, level[j].LikeCount, level[j].CreatedAt)
	})
}

func ranksBefore(likesA int, atA time.Time, likesB int, atB time.Time) bool {
	if likesA != likesB {
		return likesA > likesB
	}
	return atA.After(atB)
}

// Walk visits every node reachable from roots, parents before children.
func Walk(roots []*Node, visit func(node *Node, depth int)) {
	type frame struct {
		node  *Node
		depth int
	}
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{roots[i], 0})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(top.node, top.depth)
		for i := len(top.node.Replies) - 1; i >= 0; i-- {
			stack = append(stack, frame{top.node.Replies[i], top.depth + 1})
		}
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
