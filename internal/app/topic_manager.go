package app

import (
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

type TopicManagerImpl struct {
	mu     sync.RWMutex
	topics map[domain.Topic]core.TopicService
}

func NewTopicManager() core.TopicManager {
	return &TopicManagerImpl{topics: make(map[domain.Topic]core.TopicService)}
}

func (f *TopicManagerImpl) GetOrCreate(name domain.Topic) core.TopicService {
	f.mu.RLock()
	topic, ok := f.topics[name]
	f.mu.RUnlock()
	if ok {
		return topic
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic, ok = f.topics[name]; ok {
		return topic
	}
	topic = core.NewTopicService(name)
	f.topics[name] = topic
	return topic
}

func (f *TopicManagerImpl) Get(name domain.Topic) (core.TopicService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	topic, ok := f.topics[name]
	return topic, ok
}

func (f *TopicManagerImpl) List() []core.TopicInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.TopicInfo, 0, len(f.topics))
	for name, t := range f.topics {
		out = append(out, core.TopicInfo{Name: name, MemberCount: t.MemberCount()})
	}
	return out
}

// DropIfEmpty forgets a topic once its last member has left.
func (f *TopicManagerImpl) DropIfEmpty(name domain.Topic) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.topics[name]; ok && t.MemberCount() == 0 {
		delete(f.topics, name)
	}
}
