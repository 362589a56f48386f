package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/cvaldebenito/vetbook/libs/db"
	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/model"
)

// PetStore reads the externally-owned pet registry. This service never
// writes to it; the fields feed notification content only.
type PetStore struct {
	pool *db.Pool
}

func NewPetStore(pool *db.Pool) *PetStore {
	return &PetStore{pool: pool}
}

func (r *PetStore) GetByID(ctx context.Context, id string) (*model.Pet, bool, error) {
	var pet model.Pet
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, age, breed, identifier, health_status
		FROM pets
		WHERE id::text = $1
	`, id).Scan(
		&pet.ID,
		&pet.Name,
		&pet.Age,
		&pet.Breed,
		&pet.Identifier,
		&pet.HealthStatus,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &pet, true, nil
}
