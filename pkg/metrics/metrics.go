package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	expenseValidation = "expense_validation"

	runsTotal       = "runs_total"
	rowsVerdicts    = "row_verdicts_total"
	promptsTotal    = "prompts_generated_total"
	answersTotal    = "answers_total"
	runsWaitingName = "runs_waiting"

	statusLabel  = "status"
	verdictLabel = "verdict"
	kindLabel    = "kind"
	resultLabel  = "result"
)

/**
* Metrics definition
**/
var runsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: expenseValidation,
		Name:      runsTotal,
		Help:      "number of validation runs per terminal status",
	},
	[]string{statusLabel},
)

var rowVerdictsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: expenseValidation,
		Name:      rowsVerdicts,
		Help:      "number of row verdicts produced by the rule engine",
	},
	[]string{verdictLabel},
)

var promptsGeneratedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: expenseValidation,
		Name:      promptsTotal,
		Help:      "number of generated human-in-the-loop prompts",
	},
	[]string{kindLabel},
)

var answersMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: expenseValidation,
		Name:      answersTotal,
		Help:      "number of received answers partitioned by outcome",
	},
	[]string{resultLabel},
)

var runsWaitingMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: expenseValidation,
		Name:      runsWaitingName,
		Help:      "number of runs currently parked waiting for user input",
	},
)

func IncreaseRunsTotalMetric(status string) {
	runsTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func IncreaseRowVerdictsMetric(verdict string, count int) {
	rowVerdictsMetric.With(prometheus.Labels{verdictLabel: verdict}).Add(float64(count))
}

func IncreasePromptsGeneratedMetric(kind string, count int) {
	promptsGeneratedMetric.With(prometheus.Labels{kindLabel: kind}).Add(float64(count))
}

func IncreaseAnswersMetric(result string, count int) {
	answersMetric.With(prometheus.Labels{resultLabel: result}).Add(float64(count))
}

func UpdateRunsWaitingMetric(delta int) {
	runsWaitingMetric.Add(float64(delta))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(runsTotalMetric)
	prometheus.MustRegister(rowVerdictsMetric)
	prometheus.MustRegister(promptsGeneratedMetric)
	prometheus.MustRegister(answersMetric)
	prometheus.MustRegister(runsWaitingMetric)
}

type PrometheusMetricsHandler struct{}

func NewPrometheusMetricsHandler() *PrometheusMetricsHandler {
	return &PrometheusMetricsHandler{}
}

func (h *PrometheusMetricsHandler) Handler() http.Handler {
	return promhttp.Handler()
}
