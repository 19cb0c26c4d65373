package engine

import (
	"strings"
	"sync"

	"phishguard/internal/urlkey"
)

type trieNode struct {
	children map[string]*trieNode
	isEnd    bool
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

// HostTrie stores hosts label by label, TLD first:
// "bad.com" -> "com" -> "bad". A blocked host also blocks its subdomains.
type HostTrie struct {
	root *trieNode
	size int
}

func NewHostTrie() *HostTrie {
	return &HostTrie{root: newTrieNode()}
}

func (t *HostTrie) Insert(host string) {
	if host == "" {
		return
	}
	node := t.root
	labels := strings.Split(host, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		next := node.children[labels[i]]
		if next == nil {
			next = newTrieNode()
			node.children[labels[i]] = next
		}
		node = next
	}
	if !node.isEnd {
		node.isEnd = true
		t.size++
	}
}

// Match reports whether host or one of its parent domains was inserted.
func (t *HostTrie) Match(host string) bool {
	if host == "" {
		return false
	}
	node := t.root
	labels := strings.Split(host, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		next, exists := node.children[labels[i]]
		if !exists {
			return false
		}
		if next.isEnd {
			return true
		}
		node = next
	}
	return false
}

func (t *HostTrie) Len() int { return t.size }

// Blacklist is the in-memory fast path: blocked hosts (with subdomains) and
// blocked exact URLs. It is the only shared mutable state on the scoring
// path; reads take a shared lock.
type Blacklist struct {
	lock  sync.RWMutex
	hosts *HostTrie
	urls  map[string]struct{}
}

func NewBlacklist() *Blacklist {
	return &Blacklist{hosts: NewHostTrie(), urls: make(map[string]struct{})}
}

func (b *Blacklist) Add(target string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.insert(target)
}

// Replace swaps in a freshly loaded target list. The new structures are
// built before the write lock is taken, so readers block only for the swap.
func (b *Blacklist) Replace(targets []string) {
	next := &Blacklist{hosts: NewHostTrie(), urls: make(map[string]struct{}, len(targets))}
	for _, target := range targets {
		next.insert(target)
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.hosts, b.urls = next.hosts, next.urls
}

func (b *Blacklist) insert(target string) {
	target = strings.TrimSpace(target)
	if target == "" {
		return
	}
	if urlkey.IsURL(target) {
		b.urls[urlkey.Normalize(target)] = struct{}{}
		return
	}
	b.hosts.Insert(urlkey.Host(target))
}

// Blocked checks the exact URL first, then its host and parent domains.
func (b *Blacklist) Blocked(rawURL string) bool {
	key := urlkey.Normalize(rawURL)
	host := urlkey.Host(rawURL)

	b.lock.RLock()
	defer b.lock.RUnlock()

	if _, ok := b.urls[key]; ok {
		return true
	}
	return b.hosts.Match(host)
}

// Len returns the number of host and URL entries.
func (b *Blacklist) Len() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.hosts.Len() + len(b.urls)
}
