package monitor

import (
	"context"

	"github.com/vigilops/vigil/internal/session"
	"github.com/vigilops/vigil/internal/telemetry"
)

// InstrumentStore wraps a store so backend failures surface in the
// store error counter.
func InstrumentStore(inner session.Store, metrics *telemetry.Metrics) session.Store {
	return &instrumentedStore{inner: inner, metrics: metrics}
}

type instrumentedStore struct {
	inner   session.Store
	metrics *telemetry.Metrics
}

func (s *instrumentedStore) Save(ctx context.Context, id string, history []session.Message, meta session.Metadata) error {
	err := s.inner.Save(ctx, id, history, meta)
	if err != nil {
		s.metrics.RecordStoreError("save")
	}
	return err
}

func (s *instrumentedStore) Load(ctx context.Context, id string) (*session.Document, error) {
	doc, err := s.inner.Load(ctx, id)
	if err != nil {
		s.metrics.RecordStoreError("load")
	}
	return doc, err
}

func (s *instrumentedStore) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := s.inner.Delete(ctx, id)
	if err != nil {
		s.metrics.RecordStoreError("delete")
	}
	return ok, err
}

func (s *instrumentedStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.inner.List(ctx)
	if err != nil {
		s.metrics.RecordStoreError("list")
	}
	return ids, err
}
