// Command airchainpay is the process entrypoint: it wires configuration,
// storage, the wallet vault, and the per-chain services together and
// dispatches CLI commands. It mirrors the teacher's cmd/arcsign/main.go
// shape — cli.DetectMode() branches between an interactive, human-facing
// flow and a dashboard (env-vars-in, single-line-JSON-out) flow for
// non-interactive callers — generalized from a wallet-creation CLI to a
// payment-core CLI with chain-scoped commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/yourusername/airchainpay/internal/cli"
	"github.com/yourusername/airchainpay/internal/config"
	"github.com/yourusername/airchainpay/internal/logging"
	"github.com/yourusername/airchainpay/internal/models"
	"github.com/yourusername/airchainpay/internal/services/admission"
	"github.com/yourusername/airchainpay/internal/services/audit"
	"github.com/yourusername/airchainpay/internal/services/chainadapter"
	"github.com/yourusername/airchainpay/internal/services/chainregistry"
	"github.com/yourusername/airchainpay/internal/services/crosswallet"
	"github.com/yourusername/airchainpay/internal/services/expiry"
	"github.com/yourusername/airchainpay/internal/services/gaspolicy"
	"github.com/yourusername/airchainpay/internal/services/metatx"
	"github.com/yourusername/airchainpay/internal/services/payload"
	"github.com/yourusername/airchainpay/internal/services/securestore"
	"github.com/yourusername/airchainpay/internal/services/syncengine"
	"github.com/yourusername/airchainpay/internal/services/txqueue"
	"github.com/yourusername/airchainpay/internal/services/walletvault"
	"github.com/yourusername/airchainpay/internal/storage"
)

const version = "0.1.0"

// app bundles every long-lived service a command might need.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *chainregistry.Registry
	vault    *walletvault.Vault
	signer   *payload.Signer

	auditLog *audit.Logger

	pipelines map[models.ChainID]*admission.Pipeline
	queues    map[models.ChainID]*txqueue.Queue
	syncs     map[models.ChainID]*syncengine.Engine
	monitors  map[models.ChainID]*crosswallet.Monitor
	expirySvc *expiry.Service
}

func main() {
	mode := cli.DetectMode()
	if mode == cli.ModeDashboard {
		runDashboard()
		return
	}
	runInteractive()
}

func runInteractive() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	a, err := bootstrap(promptPassword)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "create":
		wallet, mnemonic, err := a.vault.CreateRandom()
		exitOnErr(err)
		fmt.Println("address:", wallet.Address)
		fmt.Println("seed phrase (write this down, then confirm-backup):")
		fmt.Println(mnemonic)
	case "confirm-backup":
		exitOnErr(a.vault.ConfirmBackup())
		fmt.Println("backup confirmed")
	case "address":
		fmt.Println(a.vault.Address())
	case "balance":
		requireArgs(2, "balance <chain>")
		bal := a.balance(os.Args[2])
		fmt.Println(bal)
	case "pay":
		requireArgs(5, "pay <chain> <to> <amount> <priority>")
		tx := a.pay(os.Args[2], os.Args[3], os.Args[4], os.Args[5])
		fmt.Println("queued:", tx.ID, "nonce:", tx.Nonce, "status:", tx.Status)
	case "sync":
		requireArgs(2, "sync <chain>")
		a.sync(os.Args[2])
		fmt.Println("sync complete")
	case "status":
		requireArgs(2, "status <chain>")
		fmt.Println("online:", a.online(os.Args[2]))
	case "request":
		requireArgs(4, "request <chain> <to> <amount>")
		signed := a.buildRequest(os.Args[2], os.Args[3], os.Args[4])
		fmt.Println(signed)
	case "daemon":
		a.runDaemon()
	case "version":
		fmt.Printf("airchainpay v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runDashboard() {
	cli.WriteLog(fmt.Sprintf("airchainpay v%s - dashboard mode", version))

	command := os.Getenv("CLI_COMMAND")
	if command == "" {
		writeErrorResponse("CLI_COMMAND environment variable not set")
		os.Exit(1)
	}

	password := os.Getenv("AIRCHAINPAY_PASSWORD")
	if password == "" {
		writeErrorResponse("AIRCHAINPAY_PASSWORD environment variable not set")
		os.Exit(1)
	}

	a, err := bootstrap(func() (string, error) { return password, nil })
	if err != nil {
		writeErrorResponse(err.Error())
		os.Exit(1)
	}

	switch command {
	case "balance":
		chain := os.Getenv("CHAIN")
		cli.WriteJSON(map[string]any{"success": true, "balance": a.balance(chain)})
	case "pay":
		chain := os.Getenv("CHAIN")
		to := os.Getenv("TO")
		amount := os.Getenv("AMOUNT")
		priority := os.Getenv("PRIORITY")
		tx := a.pay(chain, to, amount, priority)
		cli.WriteJSON(map[string]any{"success": true, "id": tx.ID, "nonce": tx.Nonce, "status": tx.Status})
	case "sync":
		chain := os.Getenv("CHAIN")
		a.sync(chain)
		cli.WriteJSON(map[string]any{"success": true})
	default:
		writeErrorResponse(fmt.Sprintf("unknown command: %s", command))
		os.Exit(1)
	}
}

func writeErrorResponse(msg string) {
	cli.WriteJSON(map[string]any{"success": false, "error": msg})
}

func printUsage() {
	fmt.Println("airchainpay - offline-safe multi-chain payment core")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  airchainpay create")
	fmt.Println("  airchainpay confirm-backup")
	fmt.Println("  airchainpay address")
	fmt.Println("  airchainpay balance <chain>")
	fmt.Println("  airchainpay pay <chain> <to> <amount> <low|normal|high|urgent>")
	fmt.Println("  airchainpay sync <chain>")
	fmt.Println("  airchainpay status <chain>")
	fmt.Println("  airchainpay request <chain> <to> <amount>")
	fmt.Println("  airchainpay daemon")
	fmt.Println("  airchainpay version")
}

func requireArgs(n int, usage string) {
	if len(os.Args) <= n {
		fmt.Fprintln(os.Stderr, "usage:", usage)
		os.Exit(1)
	}
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// bootstrap loads configuration, builds the chain registry, and constructs
// every per-chain service.
func bootstrap(passwordFn func() (string, error)) (*app, error) {
	fs := pflag.NewFlagSet("airchainpay", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := os.MkdirAll(cfg.StorageRootDir, 0700); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	kv := storage.NewFileKVStore(cfg.StorageRootDir)

	password, err := passwordFn()
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	store := securestore.New(kv, password)

	registry, err := chainregistry.New(cfg.Chains)
	if err != nil {
		return nil, fmt.Errorf("building chain registry: %w", err)
	}

	vault := walletvault.New(store, func(ev walletvault.CorruptionEvent) {
		log.Error().Str("reason", ev.Reason).Msg("wallet corruption detected, quarantined")
	}, cfg.MaxPasswordAttempts, cfg.LockoutDuration)
	if _, err := vault.Load(); err != nil {
		log.Warn().Err(err).Msg("no wallet loaded yet")
	}

	auditLog, err := audit.New(filepath.Join(cfg.StorageRootDir, "audit.ndjson"))
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	a := &app{
		cfg: cfg, log: log, registry: registry, vault: vault, signer: payload.New(vault),
		auditLog:  auditLog,
		pipelines: make(map[models.ChainID]*admission.Pipeline),
		queues:    make(map[models.ChainID]*txqueue.Queue),
		syncs:     make(map[models.ChainID]*syncengine.Engine),
		monitors:  make(map[models.ChainID]*crosswallet.Monitor),
	}

	for _, id := range registry.IDs() {
		if err := a.wireChain(id, kv); err != nil {
			return nil, fmt.Errorf("wiring chain %s: %w", id, err)
		}
	}

	a.expirySvc = expiry.New(expiry.Config{
		MaxOfflineDuration: cfg.MaxOfflineDuration,
		WarningThreshold:   cfg.WarningThreshold,
		CleanupPeriod:      cfg.CleanupPeriod,
		MaxRetries:         cfg.MaxRetries,
		RetryDelay:         cfg.RetryDelay,
	}, a.queues, kv, a.debitTracking, a.auditLog, logging.Component(log, "expiry"))

	return a, nil
}

// debitTracking releases amount from the named chain's offline-committed
// tracking once expiry.Service or syncengine.Engine observes a queued tx
// reach a terminal state. It forwards to that chain's own admission.Pipeline,
// which owns the tracking ledger behind its writer lock.
func (a *app) debitTracking(chain models.ChainID, token models.TokenSpec, amount *models.BigDecimal) {
	pipeline, ok := a.pipelines[chain]
	if !ok {
		a.log.Warn().Str("chain", string(chain)).Msg("debit for unconfigured chain, dropping")
		return
	}
	pipeline.DebitTracking(token, amount)
}

func (a *app) wireChain(id models.ChainID, kv storage.KVStore) error {
	chain := a.registry.MustGet(id)
	adapter := chainadapter.New(chain)

	queue, err := txqueue.Open(kv)
	if err != nil {
		return err
	}
	a.queues[id] = queue

	monitor := crosswallet.New(a.vault.Address(), adapter)
	a.monitors[id] = monitor

	builder := metatx.New(a.vault)
	prices := gaspolicy.NewPriceWindow(time.Hour)

	pipeline := admission.New(admission.Deps{
		Chain: chain, Adapter: adapter, Monitor: monitor, Prices: prices,
		MetaTx: builder, Vault: a.vault, Queue: queue, KV: kv,
		FromAddr: a.vault.Address(), Audit: a.auditLog,
		Log: logging.Component(a.log, "admission"),
	})
	pipeline.RestoreState()
	a.pipelines[id] = pipeline

	engine := syncengine.New(syncengine.Deps{
		Chain: chain, Queue: queue, Adapter: adapter, Vault: a.vault,
		FromAddr: a.vault.Address(), MaxRetries: a.cfg.MaxRetries,
		Debit: a.debitTracking, Audit: a.auditLog,
		Log:   logging.Component(a.log, "syncengine"),
	})
	a.syncs[id] = engine

	return nil
}

func (a *app) balance(chainArg string) string {
	chain, adapter := a.chainAndAdapter(chainArg)
	wei, err := adapter.Balance(context.Background(), a.vault.Address(), chain.NativeToken)
	exitOnErr(err)
	amount := models.BigDecimal{BaseUnits: wei, Decimals: chain.NativeToken.Decimals}
	return amount.String()
}

func (a *app) online(chainArg string) bool {
	_, adapter := a.chainAndAdapter(chainArg)
	return adapter.Status(context.Background())
}

func (a *app) pay(chainArg, to, amount, priorityArg string) *models.QueuedTx {
	chain, _ := a.chainAndAdapter(chainArg)
	pipeline, ok := a.pipelines[chain.ID]
	if !ok {
		exitOnErr(fmt.Errorf("chain %s not configured", chainArg))
	}

	req := admission.Request{
		Chain: chain, To: to, Amount: amount, Token: chain.NativeToken,
		Transport: models.TransportRelay, Priority: parsePriority(priorityArg),
		OfflineOrigin: !a.online(chainArg),
	}

	tx, err := pipeline.Admit(context.Background(), req)
	exitOnErr(err)
	return tx
}

// buildRequest constructs and signs a scannable payment request for the
// given chain/recipient/amount, returning its JSON encoding.
func (a *app) buildRequest(chainArg, to, amount string) string {
	chain, _ := a.chainAndAdapter(chainArg)

	req := payload.Request{
		Type:   "payment_request",
		To:     to,
		Amount: amount,
		Chain:  chain.ID,
		Token:  chain.NativeToken.Symbol,
	}

	signed, err := a.signer.Sign(req)
	exitOnErr(err)

	out, err := json.Marshal(signed)
	exitOnErr(err)
	return string(out)
}

// runDaemon runs the background loops a long-lived process needs: expiry
// sweeps and per-chain cross-wallet monitoring, until interrupted.
func (a *app) runDaemon() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		a.log.Info().Msg("shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.expirySvc.Run(ctx)
	}()

	for id, monitor := range a.monitors {
		id, monitor := id, monitor
		pipeline := a.pipelines[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.StartPolling(ctx, id, pipeline.NonceSnapshot)
		}()
	}

	go func() {
		for w := range a.expirySvc.Warnings() {
			a.log.Warn().Str("tx_id", w.TxID).Str("chain", string(w.Chain)).
				Str("severity", string(w.Severity)).Msg("offline transaction aging")
		}
	}()

	for id, monitor := range a.monitors {
		monitor := monitor
		id := id
		go func() {
			for w := range monitor.Warnings() {
				a.log.Warn().Str("chain", string(id)).Str("kind", w.Kind).
					Str("severity", string(w.Severity)).Msg(w.Message)
			}
		}()
	}

	fmt.Println("airchainpay daemon running, press Ctrl+C to stop")
	wg.Wait()
}

func (a *app) sync(chainArg string) {
	chain, _ := a.chainAndAdapter(chainArg)
	engine, ok := a.syncs[chain.ID]
	if !ok {
		exitOnErr(fmt.Errorf("chain %s not configured", chainArg))
	}
	engine.Sync(context.Background())
}

func (a *app) chainAndAdapter(chainArg string) (models.ChainEntry, *chainadapter.EVMAdapter) {
	chain, ok := a.registry.Get(models.ChainID(chainArg))
	if !ok {
		exitOnErr(fmt.Errorf("chain %q is not configured", chainArg))
	}
	return chain, chainadapter.New(chain)
}

func parsePriority(s string) gaspolicy.Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return gaspolicy.PriorityLow
	case "high":
		return gaspolicy.PriorityHigh
	case "urgent":
		return gaspolicy.PriorityUrgent
	default:
		return gaspolicy.PriorityNormal
	}
}
