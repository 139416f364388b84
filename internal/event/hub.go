package event

import (
	"context"
	"log/slog"
	"sync"
)

// Hub 进程内的发布/订阅通道，供 SSE 等长连接消费变更事件
//
// 订阅者消费过慢时丢弃该订阅者的新消息，不阻塞 outbox 投递。
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan ChangeEvent
	nextID int
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{subs: make(map[int]chan ChangeEvent), buffer: buffer}
}

// Subscribe 返回事件通道与取消函数
func (h *Hub) Subscribe() (<-chan ChangeEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan ChangeEvent, h.buffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Broadcast 非阻塞地广播给全部订阅者
func (h *Hub) Broadcast(e ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			slog.Warn("订阅者消费过慢，丢弃事件", "component", "event", "subscriber", id, "type", e.Type)
		}
	}
}

// Publish 实现 mq.Publisher，使 Hub 可以作为 outbox 的投递目标之一
func (h *Hub) Publish(_ context.Context, _, _ string, payload []byte) error {
	e, err := Unmarshal(payload)
	if err != nil {
		return err
	}
	h.Broadcast(e)
	return nil
}

// Close 关闭全部订阅
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	return nil
}

// Subscribers 当前订阅者数量
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
