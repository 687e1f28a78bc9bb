package countries

import (
	"container/list"
	"sync"
)

// 文档注释：进程内 LRU 缓存，键为精确坐标
// 背景：批量查询中重复坐标常见，命中时跳过索引与判定
// 约束：只缓存查询结果，不涉及磁盘数据的淘汰
type LRU struct {
	mu   sync.Mutex
	cap  int
	lst  *list.List
	dict map[string]*list.Element
}

type kv struct {
	k string
	v string
}

func NewLRU(capacity int) *LRU {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{cap: capacity, lst: list.New(), dict: make(map[string]*list.Element)}
}

func (c *LRU) Get(k string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		c.lst.MoveToFront(e)
		return e.Value.(kv).v, true
	}
	return "", false
}

func (c *LRU) Set(k, v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		e.Value = kv{k: k, v: v}
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(kv{k: k, v: v})
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(kv).k)
		c.lst.Remove(back)
	}
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
