package service

import "sync"

// opGuard 每个 key 同一时间最多一个进行中的操作
// 第二个请求直接失败，不排队
type opGuard struct {
	inFlight sync.Map
}

// tryAcquire 获取成功返回 release 函数
func (g *opGuard) tryAcquire(key string) (release func(), ok bool) {
	if _, loaded := g.inFlight.LoadOrStore(key, struct{}{}); loaded {
		return nil, false
	}
	return func() { g.inFlight.Delete(key) }, true
}

// held key 是否有进行中的操作
func (g *opGuard) held(key string) bool {
	_, ok := g.inFlight.Load(key)
	return ok
}

func vmKey(id string) string {
	return "vm/" + id
}

func nameKey(name string) string {
	return "name/" + name
}
