package store_test

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/expenseops/expense-validator/internal/config"
	"github.com/expenseops/expense-validator/internal/expense"
	"github.com/expenseops/expense-validator/internal/pipeline"
	"github.com/expenseops/expense-validator/internal/prompts"
	st "github.com/expenseops/expense-validator/internal/store"
	"github.com/expenseops/expense-validator/internal/store/model"
)

func testSnapshot() pipeline.Snapshot {
	return pipeline.Snapshot{
		Step: pipeline.StepGlobalHITL,
		Rows: []expense.Row{
			{
				Fields: map[string]string{
					"employee_id": "AB123",
					"dept":        "OPS",
					"amount":      "100",
					"currency":    "EUR",
					"fx_rate":     "1.08",
					"spend_date":  "2024-01-10",
					"vendor":      "Acme",
				},
				Fingerprint: "f00d",
				Verdict:     expense.Verdict{Kind: expense.VerdictPending},
			},
		},
		Params: expense.Params{
			ReferenceDate: "2024-01-15",
			Rounding:      expense.RoundingCents,
		},
		Missing: []string{"cost_center:OPS"},
		Prompts: []prompts.Prompt{
			{
				ID:      prompts.ID{Kind: prompts.KindGlobal, Key: "cost_center:OPS"},
				Type:    prompts.TypeString,
				Message: "no cost center mapped for department OPS",
			},
		},
	}
}

var _ = Describe("Store", Ordered, func() {
	var (
		store  st.Store
		gormDB *gorm.DB
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		cfg.Database.Type = "sqlite"
		cfg.Database.Name = filepath.Join(GinkgoT().TempDir(), "store.db")

		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		store = st.NewStore(db)
		Expect(store).ToNot(BeNil())
		Expect(store.InitialMigration(context.TODO())).To(BeNil())
	})

	AfterAll(func() {
		store.Close()
	})

	AfterEach(func() {
		gormDB.Exec("DELETE from runs;")
	})

	Context("run", func() {
		It("creates and reads back a run with its snapshot", func() {
			runID := uuid.New()
			created, err := store.Run().Create(context.TODO(), model.Run{
				ID:       runID,
				Filename: "expenses.csv",
				Status:   "QUEUED",
				Snapshot: model.MakeJSONField(testSnapshot()),
			})
			Expect(err).To(BeNil())
			Expect(created).ToNot(BeNil())

			run, err := store.Run().Get(context.TODO(), runID)
			Expect(err).To(BeNil())
			Expect(run.Filename).To(Equal("expenses.csv"))
			Expect(run.Status).To(Equal("QUEUED"))
			Expect(run.CreatedAt).ToNot(BeZero())

			snap := run.Snapshot.Data
			Expect(snap.Step).To(Equal(pipeline.StepGlobalHITL))
			Expect(snap.Rows).To(HaveLen(1))
			Expect(snap.Rows[0].Fields["employee_id"]).To(Equal("AB123"))
			Expect(snap.Missing).To(Equal([]string{"cost_center:OPS"}))
			Expect(snap.Prompts).To(HaveLen(1))
			Expect(snap.Prompts[0].ID.String()).To(Equal("cost_center:OPS"))
			Expect(snap.Params.ReferenceDate).To(Equal("2024-01-15"))
		})

		It("returns ErrRecordNotFound for a missing run", func() {
			_, err := store.Run().Get(context.TODO(), uuid.New())
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})

		It("replaces the snapshot wholesale on update", func() {
			runID := uuid.New()
			_, err := store.Run().Create(context.TODO(), model.Run{
				ID:       runID,
				Filename: "expenses.csv",
				Status:   "WAITING_FOR_USER",
				Snapshot: model.MakeJSONField(testSnapshot()),
			})
			Expect(err).To(BeNil())

			snap := testSnapshot()
			snap.Step = pipeline.StepDone
			snap.Missing = nil
			snap.Prompts = nil
			snap.Rows[0].Verdict = expense.Verdict{Kind: expense.VerdictValid}
			snap.Artifacts = map[string]string{
				pipeline.ArtifactValid:  runID.String() + "/valid.xlsx",
				pipeline.ArtifactErrors: runID.String() + "/errors.xlsx",
			}
			snap.ValidCount = 1

			updated, err := store.Run().Update(context.TODO(), model.Run{
				ID:         runID,
				Status:     "COMPLETED",
				ValidCount: 1,
				Snapshot:   model.MakeJSONField(snap),
			})
			Expect(err).To(BeNil())
			Expect(updated.UpdatedAt).ToNot(BeNil())

			run, err := store.Run().Get(context.TODO(), runID)
			Expect(err).To(BeNil())
			Expect(run.Status).To(Equal("COMPLETED"))
			Expect(run.ValidCount).To(Equal(1))
			Expect(run.Snapshot.Data.Step).To(Equal(pipeline.StepDone))
			Expect(run.Snapshot.Data.Missing).To(BeEmpty())
			Expect(run.Snapshot.Data.Prompts).To(BeEmpty())
			Expect(run.Snapshot.Data.Artifacts).To(HaveKey(pipeline.ArtifactValid))
		})

		It("returns ErrRecordNotFound when updating a missing run", func() {
			_, err := store.Run().Update(context.TODO(), model.Run{
				ID:       uuid.New(),
				Status:   "RUNNING",
				Snapshot: model.MakeJSONField(testSnapshot()),
			})
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})

		It("records a terminal error on failed runs", func() {
			runID := uuid.New()
			_, err := store.Run().Create(context.TODO(), model.Run{
				ID:       runID,
				Status:   "RUNNING",
				Snapshot: model.MakeJSONField(testSnapshot()),
			})
			Expect(err).To(BeNil())

			msg := "artifact upload failed"
			_, err = store.Run().Update(context.TODO(), model.Run{
				ID:       runID,
				Status:   "FAILED",
				Error:    &msg,
				Snapshot: model.MakeJSONField(testSnapshot()),
			})
			Expect(err).To(BeNil())

			run, err := store.Run().Get(context.TODO(), runID)
			Expect(err).To(BeNil())
			Expect(run.Status).To(Equal("FAILED"))
			Expect(run.Error).ToNot(BeNil())
			Expect(*run.Error).To(Equal(msg))
		})

		It("lists runs filtered by status and limit", func() {
			for _, status := range []string{"COMPLETED", "COMPLETED", "WAITING_FOR_USER"} {
				_, err := store.Run().Create(context.TODO(), model.Run{
					ID:       uuid.New(),
					Status:   status,
					Snapshot: model.MakeJSONField(testSnapshot()),
				})
				Expect(err).To(BeNil())
			}

			runs, err := store.Run().List(context.TODO(), st.NewRunQueryFilter())
			Expect(err).To(BeNil())
			Expect(runs).To(HaveLen(3))

			runs, err = store.Run().List(context.TODO(), st.NewRunQueryFilter().WithStatus("COMPLETED"))
			Expect(err).To(BeNil())
			Expect(runs).To(HaveLen(2))

			runs, err = store.Run().List(context.TODO(), st.NewRunQueryFilter().WithStatus("COMPLETED").WithLimit(1))
			Expect(err).To(BeNil())
			Expect(runs).To(HaveLen(1))
		})

		It("deletes a run and tolerates deleting it twice", func() {
			runID := uuid.New()
			_, err := store.Run().Create(context.TODO(), model.Run{
				ID:       runID,
				Status:   "COMPLETED",
				Snapshot: model.MakeJSONField(testSnapshot()),
			})
			Expect(err).To(BeNil())

			Expect(store.Run().Delete(context.TODO(), runID)).To(BeNil())
			_, err = store.Run().Get(context.TODO(), runID)
			Expect(err).To(MatchError(st.ErrRecordNotFound))

			Expect(store.Run().Delete(context.TODO(), runID)).To(BeNil())
		})
	})

	Context("transaction", func() {
		It("commits an inserted run", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			_, err = store.Run().Create(ctx, model.Run{
				ID:       uuid.New(),
				Status:   "QUEUED",
				Snapshot: model.MakeJSONField(testSnapshot()),
			})
			Expect(err).To(BeNil())

			_, cerr := st.Commit(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from runs;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("rolls back an inserted run", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			_, err = store.Run().Create(ctx, model.Run{
				ID:       uuid.New(),
				Status:   "QUEUED",
				Snapshot: model.MakeJSONField(testSnapshot()),
			})
			Expect(err).To(BeNil())

			// visible inside the transaction
			runs, err := store.Run().List(ctx, st.NewRunQueryFilter())
			Expect(err).To(BeNil())
			Expect(runs).To(HaveLen(1))

			_, cerr := st.Rollback(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from runs;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(0))
		})
	})
})
