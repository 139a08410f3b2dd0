package service_test

import (
	"bytes"
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/expenseops/expense-validator/internal/config"
	"github.com/expenseops/expense-validator/internal/events"
	"github.com/expenseops/expense-validator/internal/expense"
	"github.com/expenseops/expense-validator/internal/ingest"
	"github.com/expenseops/expense-validator/internal/packaging"
	"github.com/expenseops/expense-validator/internal/pipeline"
	"github.com/expenseops/expense-validator/internal/prompts"
	"github.com/expenseops/expense-validator/internal/service"
	"github.com/expenseops/expense-validator/internal/service/mappers"
	st "github.com/expenseops/expense-validator/internal/store"
	"github.com/expenseops/expense-validator/internal/store/model"
)

const csvHeader = "employee_id,dept,amount,currency,fx_rate,spend_date,vendor\n"

func sheetRows(content []byte, sheet string) [][]string {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	Expect(err).To(BeNil())
	defer f.Close()
	rows, err := f.GetRows(sheet)
	Expect(err).To(BeNil())
	return rows
}

func column(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	Fail("column not found: " + name)
	return -1
}

var _ = Describe("RunService", Ordered, func() {
	var (
		store  st.Store
		gormDB *gorm.DB
		srv    *service.RunService
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		cfg.Database.Type = "sqlite"
		cfg.Database.Name = filepath.Join(GinkgoT().TempDir(), "service.db")

		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		store = st.NewStore(db)
		Expect(store.InitialMigration(context.TODO())).To(BeNil())

		producer := events.NewEventProducer(&events.StdoutWriter{})
		packager := packaging.NewPackager(packaging.NewLocalStore(GinkgoT().TempDir()))
		runner := pipeline.NewRunner(
			service.NewRunPersister(store, producer),
			packager,
			service.NewEventAudit(producer),
		)
		srv = service.NewRunService(store, runner, packager, producer)
	})

	AfterAll(func() {
		store.Close()
	})

	AfterEach(func() {
		gormDB.Exec("DELETE from runs;")
	})

	createRun := func(content string, form mappers.RunCreateForm) uuid.UUID {
		form.ID = uuid.New()
		form.Filename = "expenses.csv"
		form.Content = []byte(content)
		_, err := srv.CreateRun(context.TODO(), form)
		Expect(err).To(BeNil())
		return form.ID
	}

	status := func(id uuid.UUID) func() string {
		return func() string {
			run, err := srv.GetRun(context.TODO(), id)
			if err != nil {
				return ""
			}
			return run.Status
		}
	}

	Context("create", func() {
		It("rejects a corrupted upload", func() {
			content := []byte{0x50, 0x4B, 0x03, 0x04, 0xde, 0xad, 0xbe, 0xef}
			_, err := srv.CreateRun(context.TODO(), mappers.RunCreateForm{
				ID:       uuid.New(),
				Filename: "broken.xlsx",
				Content:  content,
			})
			Expect(err).ToNot(BeNil())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrFileCorrupted{}))
		})

		It("completes without prompts when every parameter is provided", func() {
			id := createRun(csvHeader+"CD456,FIN,60000,USD,,2024-01-10,Acme\nEF789,FIN,40000,USD,,2024-01-11,Globex\n",
				mappers.RunCreateForm{
					ReferenceDate: "2024-01-15",
					RoundingMode:  "cents",
					CostCenters:   map[string]string{"FIN": "CC-FIN-001"},
				})

			Eventually(status(id)).Should(Equal(string(pipeline.StatusCompleted)))

			run, err := srv.GetRun(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(run.ValidCount).To(Equal(2))
			Expect(run.InvalidCount).To(Equal(0))

			content, name, err := srv.GetArtifact(context.TODO(), id, pipeline.ArtifactValid)
			Expect(err).To(BeNil())
			Expect(name).To(Equal("valid.xlsx"))

			rows := sheetRows(content, "Valid")
			Expect(rows).To(HaveLen(3))
			approval := column(rows[0], "approval_required")
			usd := column(rows[0], "amount_usd")
			Expect(rows[1][usd]).To(Equal("60000.00"))
			Expect(rows[1][approval]).To(Equal("YES"))
			Expect(rows[2][approval]).To(Equal("NO"))
		})
	})

	Context("prompts", func() {
		It("parks on a missing cost center and resumes on the answer", func() {
			id := createRun(csvHeader+"AB123,OPS,100,EUR,1.08,2024-01-10,Acme\n",
				mappers.RunCreateForm{
					ReferenceDate: "2024-01-15",
					RoundingMode:  "cents",
				})

			Eventually(status(id)).Should(Equal(string(pipeline.StatusWaitingForUser)))

			run, err := srv.GetRun(context.TODO(), id)
			Expect(err).To(BeNil())
			outstanding := run.Snapshot.Data.Prompts
			Expect(outstanding).To(HaveLen(1))
			Expect(outstanding[0].ID.String()).To(Equal("cost_center:OPS"))

			report, runStatus, err := srv.SubmitAnswers(context.TODO(), id, []prompts.Answer{
				{ID: "cost_center:OPS", Value: "CC-OPS-004"},
			})
			Expect(err).To(BeNil())
			Expect(report.Applied).To(ConsistOf("cost_center:OPS"))
			Expect(report.Ignored).To(BeEmpty())
			Expect(runStatus).To(Equal(pipeline.StatusCompleted))

			content, _, err := srv.GetArtifact(context.TODO(), id, pipeline.ArtifactValid)
			Expect(err).To(BeNil())

			rows := sheetRows(content, "Valid")
			Expect(rows).To(HaveLen(2))
			Expect(rows[1][column(rows[0], "amount_usd")]).To(Equal("108.00"))
			Expect(rows[1][column(rows[0], "cost_center")]).To(Equal("CC-OPS-004"))
			Expect(rows[1][column(rows[0], "approval_required")]).To(Equal("NO"))
		})

		It("parks again when a batch leaves prompts unanswered", func() {
			id := createRun(csvHeader+
				"AB123,OPS,100,EUR,,2024-01-10,Acme\n"+
				"CD456,OPS,200,EUR,,2024-01-11,Globex\n",
				mappers.RunCreateForm{
					ReferenceDate: "2024-01-15",
					RoundingMode:  "cents",
					CostCenters:   map[string]string{"OPS": "CC-OPS-004"},
				})

			Eventually(status(id)).Should(Equal(string(pipeline.StatusWaitingForUser)))

			report, runStatus, err := srv.SubmitAnswers(context.TODO(), id, []prompts.Answer{
				{ID: "row:0:fx_rate", Value: "1.08"},
			})
			Expect(err).To(BeNil())
			Expect(report.Applied).To(ConsistOf("row:0:fx_rate"))
			Expect(runStatus).To(Equal(pipeline.StatusWaitingForUser))

			run, err := srv.GetRun(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(run.Snapshot.Data.Prompts).To(HaveLen(1))
			Expect(run.Snapshot.Data.Prompts[0].ID.String()).To(Equal("row:1:fx_rate"))
		})

		It("reports unknown prompt identifiers as ignored without resuming", func() {
			id := createRun(csvHeader+"AB123,OPS,100,EUR,,2024-01-10,Acme\n",
				mappers.RunCreateForm{
					ReferenceDate: "2024-01-15",
					RoundingMode:  "cents",
					CostCenters:   map[string]string{"OPS": "CC-OPS-004"},
				})

			Eventually(status(id)).Should(Equal(string(pipeline.StatusWaitingForUser)))

			report, runStatus, err := srv.SubmitAnswers(context.TODO(), id, []prompts.Answer{
				{ID: "row:9:fx_rate", Value: "1.08"},
			})
			Expect(err).To(BeNil())
			Expect(report.Applied).To(BeEmpty())
			Expect(report.Ignored).To(ConsistOf("row:9:fx_rate"))
			Expect(runStatus).To(Equal(pipeline.StatusWaitingForUser))
		})

		It("routes every prompted row to the error artifact on skip-all", func() {
			id := createRun(csvHeader+
				"AB123,OPS,100,EUR,,2024-01-10,Acme\n"+
				"CD456,OPS,200,EUR,,2024-01-11,Globex\n",
				mappers.RunCreateForm{
					ReferenceDate: "2024-01-15",
					RoundingMode:  "cents",
					CostCenters:   map[string]string{"OPS": "CC-OPS-004"},
				})

			Eventually(status(id)).Should(Equal(string(pipeline.StatusWaitingForUser)))

			report, runStatus, err := srv.SkipAllPrompts(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(report.Applied).To(HaveLen(2))
			Expect(runStatus).To(Equal(pipeline.StatusCompleted))

			run, err := srv.GetRun(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(run.ValidCount).To(Equal(0))
			Expect(run.InvalidCount).To(Equal(2))

			content, name, err := srv.GetArtifact(context.TODO(), id, pipeline.ArtifactErrors)
			Expect(err).To(BeNil())
			Expect(name).To(Equal("errors.xlsx"))

			rows := sheetRows(content, "Errors")
			Expect(rows).To(HaveLen(3))
			reason := column(rows[0], "error_reason")
			Expect(rows[1][reason]).To(ContainSubstring("fx_rate"))
			Expect(rows[2][reason]).To(ContainSubstring("fx_rate"))
		})

		It("rejects answers for a run that is not waiting", func() {
			id := createRun(csvHeader+"CD456,FIN,100,USD,,2024-01-10,Acme\n",
				mappers.RunCreateForm{
					ReferenceDate: "2024-01-15",
					RoundingMode:  "cents",
					CostCenters:   map[string]string{"FIN": "CC-FIN-001"},
				})

			Eventually(status(id)).Should(Equal(string(pipeline.StatusCompleted)))

			_, _, err := srv.SubmitAnswers(context.TODO(), id, []prompts.Answer{
				{ID: "cost_center:OPS", Value: "CC-OPS-004"},
			})
			Expect(err).To(BeAssignableToTypeOf(&service.ErrRunNotWaiting{}))
		})
	})

	Context("reprocess", func() {
		It("carries unchanged error rows without re-prompting", func() {
			id := createRun(csvHeader+"AB123,OPS,100,EUR,9999,2024-01-10,Acme\n",
				mappers.RunCreateForm{
					ReferenceDate: "2024-01-15",
					RoundingMode:  "cents",
					CostCenters:   map[string]string{"OPS": "CC-OPS-004"},
				})

			Eventually(status(id)).Should(Equal(string(pipeline.StatusWaitingForUser)))

			_, runStatus, err := srv.SkipAllPrompts(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(runStatus).To(Equal(pipeline.StatusCompleted))

			exported, _, err := srv.GetArtifact(context.TODO(), id, pipeline.ArtifactErrors)
			Expect(err).To(BeNil())

			second, err := srv.CreateRun(context.TODO(), mappers.RunCreateForm{
				ID:            uuid.New(),
				Filename:      "errors.xlsx",
				Content:       exported,
				ReferenceDate: "2024-01-15",
				RoundingMode:  "cents",
				CostCenters:   map[string]string{"OPS": "CC-OPS-004"},
			})
			Expect(err).To(BeNil())

			// the untouched row is carried, so no prompts block completion
			Eventually(status(second.ID)).Should(Equal(string(pipeline.StatusCompleted)))

			run, err := srv.GetRun(context.TODO(), second.ID)
			Expect(err).To(BeNil())
			Expect(run.ValidCount).To(Equal(0))
			Expect(run.InvalidCount).To(Equal(1))
			Expect(run.Snapshot.Data.Rows[0].Carried).To(BeTrue())

			// prior reasons are reproduced verbatim in the new error artifact
			content, _, err := srv.GetArtifact(context.TODO(), second.ID, pipeline.ArtifactErrors)
			Expect(err).To(BeNil())
			rows := sheetRows(content, "Errors")
			Expect(rows).To(HaveLen(2))
			Expect(rows[1][column(rows[0], "error_reason")]).To(ContainSubstring("fx_rate"))
		})
	})

	Context("recovery", func() {
		// a run persisted mid-flight by a dead process, reconstructed from
		// its stored snapshot
		insertInterrupted := func(status pipeline.Status) uuid.UUID {
			rows, err := ingest.Parse([]byte(csvHeader + "CD456,FIN,100,USD,,2024-01-10,Acme\n"))
			Expect(err).To(BeNil())

			runID := uuid.New()
			_, err = store.Run().Create(context.TODO(), model.Run{
				ID:        runID,
				CreatedAt: time.Now(),
				Filename:  "expenses.csv",
				Status:    string(status),
				Snapshot: model.MakeJSONField(pipeline.Snapshot{
					Step: pipeline.StepValidate,
					Rows: rows,
					Params: expense.Params{
						ReferenceDate: "2024-01-15",
						Rounding:      expense.RoundingCents,
						CostCenters:   map[string]string{"FIN": "CC-FIN-001"},
					},
				}),
			})
			Expect(err).To(BeNil())
			return runID
		}

		It("re-dispatches queued and running runs from their snapshots", func() {
			queued := insertInterrupted(pipeline.StatusQueued)
			running := insertInterrupted(pipeline.StatusRunning)

			Expect(srv.RecoverRuns(context.TODO())).To(BeNil())

			Eventually(status(queued)).Should(Equal(string(pipeline.StatusCompleted)))
			Eventually(status(running)).Should(Equal(string(pipeline.StatusCompleted)))

			for _, id := range []uuid.UUID{queued, running} {
				run, err := srv.GetRun(context.TODO(), id)
				Expect(err).To(BeNil())
				Expect(run.ValidCount).To(Equal(1))
				Expect(run.Snapshot.Data.Artifacts).To(HaveKey(pipeline.ArtifactValid))
			}
		})

		It("leaves parked runs alone", func() {
			id := createRun(csvHeader+"AB123,OPS,100,EUR,,2024-01-10,Acme\n",
				mappers.RunCreateForm{
					ReferenceDate: "2024-01-15",
					RoundingMode:  "cents",
					CostCenters:   map[string]string{"OPS": "CC-OPS-004"},
				})

			Eventually(status(id)).Should(Equal(string(pipeline.StatusWaitingForUser)))

			Expect(srv.RecoverRuns(context.TODO())).To(BeNil())
			Consistently(status(id)).Should(Equal(string(pipeline.StatusWaitingForUser)))
		})
	})

	Context("artifacts", func() {
		It("refuses artifact downloads before completion", func() {
			id := createRun(csvHeader+"AB123,OPS,100,EUR,,2024-01-10,Acme\n",
				mappers.RunCreateForm{
					ReferenceDate: "2024-01-15",
					RoundingMode:  "cents",
					CostCenters:   map[string]string{"OPS": "CC-OPS-004"},
				})

			Eventually(status(id)).Should(Equal(string(pipeline.StatusWaitingForUser)))

			_, _, err := srv.GetArtifact(context.TODO(), id, pipeline.ArtifactValid)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrArtifactNotReady{}))
		})

		It("reports unknown artifact kinds", func() {
			id := createRun(csvHeader+"CD456,FIN,100,USD,,2024-01-10,Acme\n",
				mappers.RunCreateForm{
					ReferenceDate: "2024-01-15",
					RoundingMode:  "cents",
					CostCenters:   map[string]string{"FIN": "CC-FIN-001"},
				})

			Eventually(status(id)).Should(Equal(string(pipeline.StatusCompleted)))

			_, _, err := srv.GetArtifact(context.TODO(), id, "summary")
			Expect(err).To(BeAssignableToTypeOf(&service.ErrArtifactNotFound{}))
		})
	})

	Context("lifecycle", func() {
		It("lists runs filtered by status and limit", func() {
			for i := 0; i < 2; i++ {
				id := createRun(csvHeader+"CD456,FIN,100,USD,,2024-01-10,Acme\n",
					mappers.RunCreateForm{
						ReferenceDate: "2024-01-15",
						RoundingMode:  "cents",
						CostCenters:   map[string]string{"FIN": "CC-FIN-001"},
					})
				Eventually(status(id)).Should(Equal(string(pipeline.StatusCompleted)))
			}

			runs, err := srv.ListRuns(context.TODO(), &service.RunFilter{Status: string(pipeline.StatusCompleted)})
			Expect(err).To(BeNil())
			Expect(runs).To(HaveLen(2))

			runs, err = srv.ListRuns(context.TODO(), &service.RunFilter{Status: string(pipeline.StatusCompleted), Limit: 1})
			Expect(err).To(BeNil())
			Expect(runs).To(HaveLen(1))

			runs, err = srv.ListRuns(context.TODO(), &service.RunFilter{Status: string(pipeline.StatusFailed)})
			Expect(err).To(BeNil())
			Expect(runs).To(BeEmpty())
		})

		It("deletes a run", func() {
			id := createRun(csvHeader+"CD456,FIN,100,USD,,2024-01-10,Acme\n",
				mappers.RunCreateForm{
					ReferenceDate: "2024-01-15",
					RoundingMode:  "cents",
					CostCenters:   map[string]string{"FIN": "CC-FIN-001"},
				})

			Eventually(status(id)).Should(Equal(string(pipeline.StatusCompleted)))

			Expect(srv.DeleteRun(context.TODO(), id)).To(BeNil())
			_, err := srv.GetRun(context.TODO(), id)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))
		})
	})
})
