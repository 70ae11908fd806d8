package deejng

import (
	"fmt"
	"strconv"
	"sync"
)

// targetMap holds the user's slider-index to target-list assignment. It is
// produced by the config layer and handed to the engine as plain Target
// values; persistence stays out of the engine.
type targetMap struct {
	m    map[int][]Target
	lock sync.Locker
}

func newTargetMap() *targetMap {
	return &targetMap{
		m:    make(map[int][]Target),
		lock: &sync.Mutex{},
	}
}

// targetMapFromConfigs merges the user-provided mapping with the internal
// one; the user's entries win on conflict.
func targetMapFromConfigs(userMapping map[string][]string, internalMapping map[string][]string) *targetMap {
	resultMap := newTargetMap()

	// copy targets from user config, ignoring empty values
	for sliderIdxString, targets := range userMapping {
		sliderIdx, _ := strconv.Atoi(sliderIdxString)

		resultMap.set(sliderIdx, targetsFromNames(targets))
	}

	// add targets from internal configs, provided the user didn't override them
	for sliderIdxString, targets := range internalMapping {
		sliderIdx, _ := strconv.Atoi(sliderIdxString)

		if _, ok := resultMap.get(sliderIdx); !ok {
			resultMap.set(sliderIdx, targetsFromNames(targets))
		}
	}

	return resultMap
}

func (m *targetMap) iterate(f func(key int, value []Target)) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for key, value := range m.m {
		f(key, value)
	}
}

func (m *targetMap) get(key int) ([]Target, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	value, ok := m.m[key]
	return value, ok
}

func (m *targetMap) set(key int, value []Target) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.m[key] = value
}

func (m *targetMap) String() string {
	m.lock.Lock()
	defer m.lock.Unlock()

	sliderCount := 0
	targetCount := 0

	for _, value := range m.m {
		sliderCount++
		targetCount += len(value)
	}

	return fmt.Sprintf("<%d sliders mapped to %d targets>", sliderCount, targetCount)
}

// allNames returns every distinct normalized target name in the mapping.
func (m *targetMap) allNames() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	seen := make(map[string]struct{})
	names := []string{}

	for _, targets := range m.m {
		for _, target := range targets {
			name := target.NormalizedName()
			if _, ok := seen[name]; ok || name == "" {
				continue
			}

			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	return names
}
