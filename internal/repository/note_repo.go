package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notesync/internal/errs"
	"notesync/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NoteRepositoryImpl persists note records with GORM.
// It returns the concrete type; consumers declare the interface they need.
type NoteRepositoryImpl struct {
	db *gorm.DB
}

func NewNoteRepository(db *gorm.DB) *NoteRepositoryImpl {
	return &NoteRepositoryImpl{db: db}
}

// Get loads one note including its replicated state.
func (r *NoteRepositoryImpl) Get(ctx context.Context, id string) (*models.Note, error) {
	var note models.Note

	err := r.db.WithContext(ctx).First(&note, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(id)
	}
	if err != nil {
		return nil, errs.Storage("get note", err)
	}

	return &note, nil
}

// List returns notes newest first, without their replicated state.
func (r *NoteRepositoryImpl) List(ctx context.Context, limit, offset int) ([]*models.Note, error) {
	var notes []*models.Note

	err := r.db.WithContext(ctx).
		Omit("yjs_state").
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&notes).Error
	if err != nil {
		return nil, errs.Storage("list notes", err)
	}

	return notes, nil
}

// Create inserts a note. An empty id gets a KSUID from the BeforeCreate hook.
func (r *NoteRepositoryImpl) Create(ctx context.Context, note *models.Note) (*models.Note, error) {
	err := r.db.WithContext(ctx).Create(note).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, errs.Invalid("id", fmt.Sprintf("note %s already exists", note.ID))
	}
	if err != nil {
		return nil, errs.Storage("create note", err)
	}

	return note, nil
}

// Update applies reconciled column changes. Columns absent from changes are
// never written.
func (r *NoteRepositoryImpl) Update(ctx context.Context, id string, changes *models.NoteChanges) (*models.Note, error) {
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if changes.Title != nil {
		updates["title"] = *changes.Title
	}
	if changes.Content != nil {
		updates["content"] = *changes.Content
	}
	if changes.HTMLContent != nil {
		updates["html_content"] = *changes.HTMLContent
		updates["render_mode"] = models.RenderHTML
	} else if changes.ClearHTML {
		updates["html_content"] = nil
		updates["render_mode"] = models.RenderMarkdown
	}
	if changes.YjsState != nil {
		updates["yjs_state"] = changes.YjsState
	}
	if changes.Metadata != nil {
		updates["metadata"] = datatypes.JSONMap(changes.Metadata)
	}

	result := r.db.WithContext(ctx).
		Model(&models.Note{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, errs.Storage("update note", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, errs.NotFound(id)
	}

	return r.Get(ctx, id)
}

// UpdateState writes only the replicated state and timestamp, bumps the store
// counter, and returns the new counter value. Content columns are untouched.
func (r *NoteRepositoryImpl) UpdateState(ctx context.Context, id string, state []byte, at time.Time) (int64, error) {
	var count int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Note{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"yjs_state":   state,
				"updated_at":  at,
				"store_count": gorm.Expr("store_count + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errs.NotFound(id)
		}

		return tx.Model(&models.Note{}).
			Select("store_count").
			Where("id = ?", id).
			Scan(&count).Error
	})
	if errs.IsNotFound(err) {
		return 0, err
	}
	if err != nil {
		return 0, errs.Storage("store note state", err)
	}

	return count, nil
}

// Delete removes the note row. Snapshots are left in place.
func (r *NoteRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Note{}, "id = ?", id)

	if result.Error != nil {
		return errs.Storage("delete note", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.NotFound(id)
	}

	return nil
}
