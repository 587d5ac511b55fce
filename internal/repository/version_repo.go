package repository

import (
	"context"
	"errors"
	"fmt"

	"notesync/internal/errs"
	"notesync/internal/models"

	"gorm.io/gorm"
)

/*
VERSION SNAPSHOT PERSISTENCE

Snapshots are append-only: rows are inserted, never updated.

  CountVersions: decides the next version number
  CreateVersion: writes one immutable snapshot
  ListVersions:  history without the snapshot bytes
  GetVersion:    one snapshot with bytes, for restore/download
*/

// VersionRepositoryImpl handles snapshot storage.
type VersionRepositoryImpl struct {
	db *gorm.DB
}

func NewVersionRepository(db *gorm.DB) *VersionRepositoryImpl {
	return &VersionRepositoryImpl{db: db}
}

func (r *VersionRepositoryImpl) CountVersions(ctx context.Context, noteID string) (int, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&models.NoteVersion{}).
		Where("note_id = ?", noteID).
		Count(&count).Error
	if err != nil {
		return 0, errs.Storage("count versions", err)
	}

	return int(count), nil
}

func (r *VersionRepositoryImpl) CreateVersion(ctx context.Context, version *models.NoteVersion) error {
	err := r.db.WithContext(ctx).Create(version).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errs.Storage("create version", fmt.Errorf("version %d of note %s already exists", version.Version, version.NoteID))
	}
	if err != nil {
		return errs.Storage("create version", err)
	}

	return nil
}

func (r *VersionRepositoryImpl) ListVersions(ctx context.Context, noteID string) ([]*models.NoteVersion, error) {
	var versions []*models.NoteVersion

	err := r.db.WithContext(ctx).
		Omit("snapshot").
		Where("note_id = ?", noteID).
		Order("version ASC").
		Find(&versions).Error
	if err != nil {
		return nil, errs.Storage("list versions", err)
	}

	return versions, nil
}

func (r *VersionRepositoryImpl) GetVersion(ctx context.Context, noteID string, version int) (*models.NoteVersion, error) {
	var v models.NoteVersion

	err := r.db.WithContext(ctx).
		Where("note_id = ? AND version = ?", noteID, version).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.VersionNotFound(noteID, version)
	}
	if err != nil {
		return nil, errs.Storage("get version", err)
	}

	return &v, nil
}
