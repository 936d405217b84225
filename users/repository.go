package users

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Repository is the relational access to users. Build it on a [uow.Tx] DB so
// its writes share the transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the user or nil when there is none.
func (r *Repository) Get(telegramID int64) (*User, error) {
	var u User
	err := r.db.Where("telegram_id = ?", telegramID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", telegramID, err)
	}
	return &u, nil
}

func (r *Repository) Create(u *User) error {
	if err := r.db.Create(u).Error; err != nil {
		return fmt.Errorf("create user %d: %w", u.TelegramID, err)
	}
	return nil
}

// Update writes fields (column name to value) and returns the stored row, or
// nil when the user does not exist.
func (r *Repository) Update(telegramID int64, fields map[string]any) (*User, error) {
	u, err := r.Get(telegramID)
	if err != nil || u == nil {
		return nil, err
	}
	if len(fields) == 0 {
		return u, nil
	}
	if err := r.db.Model(&User{}).Where("telegram_id = ?", telegramID).Updates(fields).Error; err != nil {
		return nil, fmt.Errorf("update user %d: %w", telegramID, err)
	}
	return r.Get(telegramID)
}

// Delete reports whether a row was removed.
func (r *Repository) Delete(telegramID int64) (bool, error) {
	res := r.db.Where("telegram_id = ?", telegramID).Delete(&User{})
	if res.Error != nil {
		return false, fmt.Errorf("delete user %d: %w", telegramID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) Count() (int64, error) {
	var n int64
	if err := r.db.Model(&User{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (r *Repository) FilterByRole(role Role) ([]User, error) {
	var out []User
	if err := r.db.Where("role = ?", role).Order("telegram_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("filter users by role %s: %w", role, err)
	}
	return out, nil
}

func (r *Repository) FilterBlocked() ([]User, error) {
	var out []User
	if err := r.db.Where("is_blocked = ?", true).Order("telegram_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("filter blocked users: %w", err)
	}
	return out, nil
}

// SearchByName matches query case-insensitively against name and username.
func (r *Repository) SearchByName(query string) ([]User, error) {
	like := "%" + strings.ToLower(query) + "%"
	var out []User
	err := r.db.
		Where("LOWER(name) LIKE ? OR LOWER(username) LIKE ?", like, like).
		Order("telegram_id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("search users %q: %w", query, err)
	}
	return out, nil
}
