package memstore

import (
	"testing"

	"nexqa/internal/adapter/store/storetest"
	"nexqa/internal/port"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.CollectionStore {
		return NewMemoryStore()
	})
}
