package checkpoint

import (
	"context"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/database"
)

// MemoryMatch is one hit from Memory.SearchSimilar.
type MemoryMatch struct {
	Key   string
	Value []byte
	Score float64
}

// Memory is the narrow interface the plan/step executor consults for
// long-term recall. The vector store is treated as an external
// collaborator this core only defines the interface shape for — see
// the KeyedMemory doc comment for the resolved Open Question.
type Memory interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	SearchSimilar(ctx context.Context, namespace string, queryVector []float32, topK int) ([]MemoryMatch, error)
}

// KeyedMemory is the in-process Memory implementation: exact-key
// get/put backed by pkg/database, with SearchSimilar as a deliberate
// no-op.
//
// Open Question resolved (spec §9, native-vector-column question): this
// core does not own a vector column or embedding pipeline. SearchSimilar
// returns ErrVectorSearchUnsupported so a caller can distinguish "no
// matches" from "this implementation can't do similarity search" and
// fall back to exact-key lookups or route to an external vector store
// the deployment wires in separately.
type KeyedMemory struct {
	db *database.Client
}

// NewKeyedMemory returns a Memory backed by db's memory_entries table.
func NewKeyedMemory(db *database.Client) *KeyedMemory {
	return &KeyedMemory{db: db}
}

// ErrVectorSearchUnsupported is returned by KeyedMemory.SearchSimilar.
var ErrVectorSearchUnsupported = apierrors.New(apierrors.KindInvalidRequest, "vector similarity search is not supported by the keyed memory implementation")

func (m *KeyedMemory) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := m.db.QueryRow(ctx, `SELECT value FROM memory_entries WHERE namespace = $1 AND key = $2`, namespace, key).Scan(&value)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "get memory entry", err)
	}
	return value, nil
}

func (m *KeyedMemory) Put(ctx context.Context, namespace, key string, value []byte) error {
	_, err := m.db.Exec(ctx,
		`INSERT INTO memory_entries (namespace, key, value, updated_at) VALUES ($1,$2,$3, now())
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		namespace, key, value,
	)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "put memory entry", err)
	}
	return nil
}

func (m *KeyedMemory) SearchSimilar(ctx context.Context, namespace string, queryVector []float32, topK int) ([]MemoryMatch, error) {
	return nil, ErrVectorSearchUnsupported
}

var _ Memory = (*KeyedMemory)(nil)
