package quota

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckLimit(t *testing.T) {
	limits := Limits{
		MaxClasses:      3,
		MaxMembers:      2,
		MaxSubjects:     3,
		MaxStorageBytes: 100,
	}
	usage := Usage{
		Classes:      2,
		Members:      2,
		Subjects:     0,
		StorageBytes: 90,
	}

	tests := []struct {
		name      string
		res       Resource
		proposed  int64
		wantLimit int64 // 0 means admitted
	}{
		{name: "classes below ceiling", res: ResourceClasses, proposed: 3},
		{name: "classes above ceiling", res: ResourceClasses, proposed: 4, wantLimit: 3},
		{name: "members at ceiling", res: ResourceMembers, proposed: 2},
		{name: "members above ceiling", res: ResourceMembers, proposed: 3, wantLimit: 2},
		{name: "subjects from zero", res: ResourceSubjects, proposed: 1},
		{name: "storage delta fits", res: ResourceStorage, proposed: 5},
		{name: "storage delta fills exactly", res: ResourceStorage, proposed: 10},
		{name: "storage delta overflows", res: ResourceStorage, proposed: 20, wantLimit: 100},
		{name: "storage deletion always admits", res: ResourceStorage, proposed: -5},
		{name: "storage zero delta admits", res: ResourceStorage, proposed: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckLimit(limits, usage, tt.res, tt.proposed)
			if tt.wantLimit == 0 {
				assert.NoError(t, err)
				return
			}
			var limitErr *LimitError
			if assert.ErrorAs(t, err, &limitErr) {
				assert.Equal(t, tt.res, limitErr.Resource)
				assert.Equal(t, tt.wantLimit, limitErr.Limit)
			}
		})
	}

	t.Run("unknown resource", func(t *testing.T) {
		err := CheckLimit(limits, usage, Resource("gpus"), 1)
		assert.Error(t, err)
		assert.False(t, IsLimitError(err))
	})
}

func TestIsLimitError(t *testing.T) {
	assert.True(t, IsLimitError(&LimitError{Resource: ResourceClasses, Limit: 3}))
	assert.False(t, IsLimitError(nil))
	assert.False(t, IsLimitError(assert.AnError))
}

func TestKeyedMutex_serializesPerKey(t *testing.T) {
	km := NewKeyedMutex()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = km.Do("school-1", func() error {
				counter++ // data race unless serialized
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}

func TestKeyedMutex_independentKeys(t *testing.T) {
	km := NewKeyedMutex()

	unlock := km.Lock("a")
	defer unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = km.Do("b", func() error { return nil })
	}()
	<-done // must not block on key "a"
}

func TestKeyedMutex_releasesEntries(t *testing.T) {
	km := NewKeyedMutex()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = km.Do("key", func() error { return nil })
		}()
	}
	wg.Wait()

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks, "lock table should not leak entries")
}
