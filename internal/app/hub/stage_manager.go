package hub

import (
	"sort"
	"sync"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/google/uuid"
)

type StageManagerImpl struct {
	mu     sync.RWMutex
	stages map[domain.StageName]core.StageService
}

func NewStageManager() core.StageManager {
	return &StageManagerImpl{stages: make(map[domain.StageName]core.StageService)}
}

func (f *StageManagerImpl) GetOrCreate(name domain.StageName) core.StageService {
	f.mu.RLock()
	st, ok := f.stages[name]
	f.mu.RUnlock()
	if ok {
		return st
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok = f.stages[name]; ok {
		return st
	}
	st = core.NewStageService(&domain.Stage{ID: domain.StageID(uuid.NewString()), Name: name})
	f.stages[name] = st
	return st
}

func (f *StageManagerImpl) Get(name domain.StageName) (core.StageService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	st, ok := f.stages[name]
	return st, ok
}

func (f *StageManagerImpl) List() []core.StageInfo {
	f.mu.RLock()
	out := make([]core.StageInfo, 0, len(f.stages))
	for name, st := range f.stages {
		_, hasHost := st.Host()
		out = append(out, core.StageInfo{Name: name, MemberCount: st.MemberCount(), HasHost: hasHost})
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *StageManagerImpl) StopStage(name domain.StageName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stages, name)
}
