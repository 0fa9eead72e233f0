package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
	"github.com/hochfrequenz/factory-coordinator/internal/interpret"
	"github.com/hochfrequenz/factory-coordinator/internal/prompts"
	"github.com/hochfrequenz/factory-coordinator/internal/schedule"
	"github.com/hochfrequenz/factory-coordinator/internal/workflow"
	"github.com/hochfrequenz/factory-coordinator/web/api"
)

var (
	submitFile     string
	submitForm     requestForm
	submitBy       string
	updateBy       string
	updateReason   string
	listStatus     []string
	listFactory    string
	sweepWatch     bool
	interpretReqID string
	interpretApply bool
	serveAddr      string
	serveSweep     bool
)

// requestForm is a request as written by hand: deadlines accept dates such
// as 2025-04-01 or phrases such as "next friday".
type requestForm struct {
	RequesterID       string `yaml:"requester_id"`
	FactoryID         string `yaml:"factory_id"`
	ProductID         string `yaml:"product_id"`
	RequestedQuantity int    `yaml:"requested_quantity"`
	CurrentQuantity   int    `yaml:"current_quantity"`
	AdjustmentType    string `yaml:"adjustment_type"`
	Priority          string `yaml:"priority"`
	ResponseDeadline  string `yaml:"response_deadline"`
	DeliveryDeadline  string `yaml:"delivery_deadline"`
	Reason            string `yaml:"reason"`
}

func init() {
	// submit command
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a production request",
		Example: `  coordinator submit --factory F01 --product P-100 --quantity 500 \
      --type increase --priority high --respond-by "in 3 days" --deliver-by 2025-05-01
  coordinator submit --file request.yaml`,
		Args: exactArgs(0),
		RunE: runSubmit,
	}
	f := submitCmd.Flags()
	f.StringVar(&submitFile, "file", "", "read the request from a YAML file ('-' for stdin)")
	f.StringVar(&submitForm.FactoryID, "factory", "", "factory id")
	f.StringVar(&submitForm.ProductID, "product", "", "product id")
	f.IntVar(&submitForm.RequestedQuantity, "quantity", 0, "requested quantity")
	f.IntVar(&submitForm.CurrentQuantity, "current", 0, "current quantity")
	f.StringVar(&submitForm.AdjustmentType, "type", "increase", "adjustment type: increase, decrease")
	f.StringVar(&submitForm.Priority, "priority", "medium", "priority: high, medium, low")
	f.StringVar(&submitForm.ResponseDeadline, "respond-by", "", "response deadline")
	f.StringVar(&submitForm.DeliveryDeadline, "deliver-by", "", "delivery deadline")
	f.StringVar(&submitForm.Reason, "reason", "", "why the adjustment is needed")
	f.StringVar(&submitForm.RequesterID, "requester", "", "requesting user id")
	f.StringVar(&submitBy, "by", string(domain.ActorCoordinationAgent), "actor recorded in the ledger")
	rootCmd.AddCommand(submitCmd)

	// update command
	updateCmd := &cobra.Command{
		Use:   "update ID STATUS",
		Short: "Change a request's status",
		Args:  exactArgs(2),
		RunE:  runUpdate,
	}
	updateCmd.Flags().StringVar(&updateBy, "by", "", "user id or system tag making the change")
	updateCmd.Flags().StringVar(&updateReason, "reason", "", "reason recorded in the ledger")
	_ = updateCmd.MarkFlagRequired("by")
	rootCmd.AddCommand(updateCmd)

	// transitions command
	transitionsCmd := &cobra.Command{
		Use:   "transitions ID",
		Short: "Show where a request can move next",
		Args:  exactArgs(1),
		RunE:  runTransitions,
	}
	rootCmd.AddCommand(transitionsCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history ID",
		Short: "Show a request's status history",
		Args:  exactArgs(1),
		RunE:  runHistory,
	}
	rootCmd.AddCommand(historyCmd)

	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		Args:  exactArgs(0),
		RunE:  runList,
	}
	listCmd.Flags().StringSliceVar(&listStatus, "status", nil, "filter by status (repeatable)")
	listCmd.Flags().StringVar(&listFactory, "factory", "", "filter by factory")
	rootCmd.AddCommand(listCmd)

	// sweep command
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Escalate overdue requests and surface completion candidates",
		Long: `Runs the auto-progression sweep once. With --watch the sweep runs on the
configured cron cadence until interrupted, serving /metrics when
sweep.metrics_addr is set.`,
		Args: exactArgs(0),
		RunE: runSweep,
	}
	sweepCmd.Flags().BoolVar(&sweepWatch, "watch", false, "keep running on the configured cron schedule")
	rootCmd.AddCommand(sweepCmd)

	// interpret command
	interpretCmd := &cobra.Command{
		Use:   "interpret FILE|-",
		Short: "Interpret a factory reply",
		Long: `Extracts the structured answer from a factory's free-text reply. With
--apply the implied status change is made when the reading is confident
enough; otherwise it is flagged for manual review.`,
		Args: exactArgs(1),
		RunE: runInterpret,
	}
	interpretCmd.Flags().StringVar(&interpretReqID, "request", "", "request id (default: the id found in the reply)")
	interpretCmd.Flags().BoolVar(&interpretApply, "apply", false, "apply the status change when confident")
	rootCmd.AddCommand(interpretCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serves the request API, a server-sent event stream of status changes on
/api/events and /metrics. With --sweep the auto-progression sweep also runs
on the configured cron cadence.`,
		Args: exactArgs(0),
		RunE: runServe,
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: web.addr)")
	serveCmd.Flags().BoolVar(&serveSweep, "sweep", false, "run the scheduled sweep alongside the API")
	rootCmd.AddCommand(serveCmd)

	// prompts command
	promptsCmd := &cobra.Command{
		Use:   "prompts",
		Short: "List the AI prompt templates in effect",
		Long: `Lists the extraction and confidence prompts with the model settings they
carry. Templates in prompts.override_dir or ~/.config/factory-coordinator/prompts
take precedence over the built-in ones.`,
		Args: exactArgs(0),
		RunE: runPrompts,
	}
	rootCmd.AddCommand(promptsCmd)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// toRequest converts the form, resolving deadlines relative to now
func (f requestForm) toRequest(now time.Time) (*domain.ProductionRequest, error) {
	req := &domain.ProductionRequest{
		RequesterID:       f.RequesterID,
		FactoryID:         f.FactoryID,
		ProductID:         f.ProductID,
		RequestedQuantity: f.RequestedQuantity,
		CurrentQuantity:   f.CurrentQuantity,
		AdjustmentType:    domain.AdjustmentType(strings.ToLower(f.AdjustmentType)),
		Priority:          domain.Priority(strings.ToLower(f.Priority)),
		Reason:            f.Reason,
	}
	var err error
	if f.ResponseDeadline != "" {
		if req.ResponseDeadline, err = interpret.ParseDate(f.ResponseDeadline, now); err != nil {
			return nil, fmt.Errorf("%w: response deadline: %v", domain.ErrValidation, err)
		}
	}
	if f.DeliveryDeadline != "" {
		if req.DeliveryDeadline, err = interpret.ParseDate(f.DeliveryDeadline, now); err != nil {
			return nil, fmt.Errorf("%w: delivery deadline: %v", domain.ErrValidation, err)
		}
	}
	return req, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	form := submitForm
	if submitFile != "" {
		data, err := readInput(submitFile)
		if err != nil {
			return err
		}
		form = requestForm{AdjustmentType: "increase", Priority: "medium"}
		if err := yaml.Unmarshal(data, &form); err != nil {
			return fmt.Errorf("%w: parse %s: %v", domain.ErrValidation, submitFile, err)
		}
	}

	req, err := form.toRequest(time.Now())
	if err != nil {
		return err
	}
	actor, err := domain.ParseExternalActor(submitBy)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.Submit(cmd.Context(), req, actor)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	status, err := domain.ParseStatus(args[1])
	if err != nil {
		return err
	}
	actor, err := domain.ParseExternalActor(updateBy)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.UpdateStatus(cmd.Context(), args[0], status, actor, updateReason)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res)
}

func runTransitions(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.engine.CheckTransitions(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printTransitions(cmd.OutOrStdout(), rep)
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.engine.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), entries)
}

func runList(cmd *cobra.Command, args []string) error {
	filter := domain.RequestFilter{FactoryID: listFactory}
	for _, s := range listStatus {
		st, err := domain.ParseStatus(s)
		if err != nil {
			return err
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	reqs, err := a.engine.List(cmd.Context(), filter)
	if err != nil {
		return err
	}
	return printRequests(cmd.OutOrStdout(), reqs, time.Now())
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !sweepWatch {
		rep, err := a.engine.Sweep(cmd.Context(), time.Now())
		if err != nil && rep == nil {
			return err
		}
		if perr := printSweep(cmd.OutOrStdout(), rep); perr != nil {
			return perr
		}
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	runner, err := schedule.NewRunner(a.engine, a.cfg.Sweep.Cron,
		schedule.WithLogger(a.log),
		schedule.WithReportHandler(func(rep *workflow.SweepReport) {
			if err := printSweep(out, rep); err != nil {
				a.log.WithError(err).Warn("failed to print sweep report")
			}
		}),
	)
	if err != nil {
		return err
	}

	var srv *http.Server
	if addr := a.cfg.Sweep.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.WithError(err).Error("metrics server stopped")
			}
		}()
		a.log.WithField("addr", addr).Info("serving metrics")
	}

	runner.Start()
	<-ctx.Done()
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	return runner.Stop(shutdownCtx)
}

func runInterpret(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("%w: reply text is empty", domain.ErrValidation)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	interp, err := a.interpreter()
	if err != nil {
		return err
	}

	if !interpretApply {
		res := interp.Interpret(cmd.Context(), text)
		if interpretReqID != "" {
			res.Data.RequestID = interpretReqID
		}
		return printInterpretation(cmd.OutOrStdout(), res)
	}

	svc := interpret.NewService(interp, a.engine, a.log)
	out, err := svc.Process(cmd.Context(), interpretReqID, text)
	if perr := printOutcome(cmd.OutOrStdout(), out); perr != nil {
		return perr
	}
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	interp, err := a.interpreter()
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Web.Addr
	}
	server := api.NewServer(a.engine, addr,
		api.WithProcessor(interpret.NewService(interp, a.engine, a.log)),
		api.WithLogger(a.log),
		api.WithMetrics(a.registry),
	)
	a.relay.Add(server)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runner *schedule.Runner
	if serveSweep {
		runner, err = schedule.NewRunner(a.engine, a.cfg.Sweep.Cron,
			schedule.WithLogger(a.log),
			schedule.WithReportHandler(func(rep *workflow.SweepReport) {
				server.Broadcast(api.SSEEvent{Type: "sweep_finished", Data: rep})
			}),
		)
		if err != nil {
			return err
		}
		runner.Start()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	a.log.WithField("addr", addr).Info("serving API")

	select {
	case err = <-errCh:
	case <-ctx.Done():
		a.log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	if runner != nil {
		if rerr := runner.Stop(shutdownCtx); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func runPrompts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	metas, err := prompts.DefaultLoader(cfg.Prompts.OverrideDir).ListTemplates()
	if err != nil {
		return err
	}
	return printPrompts(cmd.OutOrStdout(), metas)
}
