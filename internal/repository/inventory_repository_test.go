package repository_test

import (
	"testing"
	"time"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/repository"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/testsuite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type InventoryRepositorySuite struct {
	testsuite.BaseSuite
	repo repository.InventoryRepository
}

func TestInventoryRepositorySuite(t *testing.T) {
	suite.Run(t, new(InventoryRepositorySuite))
}

func (s *InventoryRepositorySuite) SetupSuite() {
	s.SetupPostgres("../../migrations")
	s.repo = repository.NewInventoryRepository(s.DbPool, zap.NewNop())
}

func (s *InventoryRepositorySuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *InventoryRepositorySuite) SetupTest() {
	s.TruncateTable("inventory_batches")
}

func (s *InventoryRepositorySuite) seedBatch(productID uuid.UUID, batchNumber string, expiration time.Time, total, reserved int32) uuid.UUID {
	batchID := uuid.New()
	_, err := s.DbPool.Exec(
		s.Ctx,
		`INSERT INTO inventory_batches (id, product_id, warehouse_id, batch_number, expiration_date, total_quantity, reserved_quantity)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		batchID, productID, uuid.New(), batchNumber, expiration, total, reserved,
	)
	s.Require().NoError(err)
	return batchID
}

func (s *InventoryRepositorySuite) inTx(fn func(tx pgx.Tx)) {
	tx, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)
	defer tx.Rollback(s.Ctx)

	fn(tx)

	s.Require().NoError(tx.Commit(s.Ctx))
}

func (s *InventoryRepositorySuite) TestAvailableBatchesOrderedByExpiration() {
	productID := uuid.New()
	day := 24 * time.Hour
	now := time.Now()

	late := s.seedBatch(productID, "B-100", now.Add(30*day), 10, 0)
	early := s.seedBatch(productID, "B-200", now.Add(5*day), 10, 0)
	mid := s.seedBatch(productID, "B-300", now.Add(15*day), 10, 0)

	s.inTx(func(tx pgx.Tx) {
		batches, err := s.repo.AvailableBatches(s.Ctx, tx, productID)
		s.Require().NoError(err)
		s.Require().Len(batches, 3)

		s.Equal(early, batches[0].ID)
		s.Equal(mid, batches[1].ID)
		s.Equal(late, batches[2].ID)
	})
}

func (s *InventoryRepositorySuite) TestAvailableBatchesTieBrokenByBatchNumber() {
	productID := uuid.New()
	expiration := time.Now().Add(240 * time.Hour)

	second := s.seedBatch(productID, "B-002", expiration, 10, 0)
	first := s.seedBatch(productID, "B-001", expiration, 10, 0)

	s.inTx(func(tx pgx.Tx) {
		batches, err := s.repo.AvailableBatches(s.Ctx, tx, productID)
		s.Require().NoError(err)
		s.Require().Len(batches, 2)

		s.Equal(first, batches[0].ID)
		s.Equal(second, batches[1].ID)
	})
}

func (s *InventoryRepositorySuite) TestAvailableBatchesExcludesExhausted() {
	productID := uuid.New()
	expiration := time.Now().Add(240 * time.Hour)

	s.seedBatch(productID, "B-001", expiration, 10, 10)
	open := s.seedBatch(productID, "B-002", expiration, 10, 9)

	s.inTx(func(tx pgx.Tx) {
		batches, err := s.repo.AvailableBatches(s.Ctx, tx, productID)
		s.Require().NoError(err)
		s.Require().Len(batches, 1)

		s.Equal(open, batches[0].ID)
		s.Equal(int32(1), batches[0].Available())
	})
}

func (s *InventoryRepositorySuite) TestReserveTakesQuantity() {
	productID := uuid.New()
	batchID := s.seedBatch(productID, "B-001", time.Now().Add(240*time.Hour), 10, 2)

	s.inTx(func(tx pgx.Tx) {
		s.Require().NoError(s.repo.Reserve(s.Ctx, tx, batchID, 5))
	})

	var reserved int32
	err := s.DbPool.QueryRow(
		s.Ctx,
		"SELECT reserved_quantity FROM inventory_batches WHERE id = $1",
		batchID,
	).Scan(&reserved)
	s.Require().NoError(err)
	s.Equal(int32(7), reserved)
}

func (s *InventoryRepositorySuite) TestReserveConflictsWhenShort() {
	productID := uuid.New()
	batchID := s.seedBatch(productID, "B-001", time.Now().Add(240*time.Hour), 10, 8)

	tx, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)
	defer tx.Rollback(s.Ctx)

	err = s.repo.Reserve(s.Ctx, tx, batchID, 3)
	s.Require().ErrorIs(err, repository.ErrReservationConflict)
}
