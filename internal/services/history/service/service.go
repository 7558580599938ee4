// Package service provides the history service implementation
package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"

	perr "agpm/internal/platform/errors"
	"agpm/internal/services/history/domain"
)

// Service implements domain.StorePort and domain.ExportPort over a store
type Service struct {
	Storage domain.StorePort
}

// New constructs the history service
func New(storage domain.StorePort) *Service {
	return &Service{Storage: storage}
}

// Insert implements domain.StorePort
func (s *Service) Insert(ctx context.Context, number int, title string, merged bool) error {
	return s.Storage.Insert(ctx, number, title, merged)
}

// MarkMerged implements domain.StorePort
func (s *Service) MarkMerged(ctx context.Context, number int) error {
	return s.Storage.MarkMerged(ctx, number)
}

// List implements domain.StorePort
func (s *Service) List(ctx context.Context) ([]domain.Record, error) {
	return s.Storage.List(ctx)
}

// ExportCSV writes number,title,merged rows with RFC 4180 quoting
func (s *Service) ExportCSV(ctx context.Context, path string) error {
	recs, err := s.Storage.List(ctx)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "history csv create %s", path)
	}
	w := csv.NewWriter(f)
	for _, r := range recs {
		row := []string{strconv.Itoa(r.Number), r.Title, strconv.FormatBool(r.Merged)}
		if err := w.Write(row); err != nil {
			_ = f.Close()
			return perr.Wrapf(err, perr.ErrorCodeDB, "history csv write")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return perr.Wrapf(err, perr.ErrorCodeDB, "history csv flush")
	}
	if err := f.Close(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "history csv close")
	}
	return nil
}

// ExportJSON writes an indented array of {number, title, merged}
func (s *Service) ExportJSON(ctx context.Context, path string) error {
	recs, err := s.Storage.List(ctx)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []domain.Record{}
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeJSON, "history json marshal")
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "history json write %s", path)
	}
	return nil
}
