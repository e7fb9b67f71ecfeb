package session

import (
	"sync"

	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
)

// EventType 区分会话事件的种类。
type EventType string

const (
	// EventStateChanged 在每次状态机迁移后发布，携带完整状态快照。
	EventStateChanged EventType = "state"
	// EventGenerationDelta 在每个增量到达后发布，携带累计文本。
	EventGenerationDelta EventType = "delta"
)

// Event 是发布给订阅者的会话事件。
// Text 始终是累计后的完整文本，因此慢订阅者丢掉中间事件也不会丢内容。
type Event struct {
	Type  EventType          `json:"type"`
	State model.SessionState `json:"state,omitempty"`
	Text  string             `json:"text,omitempty"`
}

// bus 是一个进程内的发布/订阅通道集合。
// 发送是非阻塞的：订阅者消费不及时时丢弃事件，以免拖慢生成循环。
type bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

// subscribe 返回事件通道与取消订阅函数。
func (b *bus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (b *bus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// 订阅者落后，丢弃；状态与累计文本都会随后续事件补齐
		}
	}
}
