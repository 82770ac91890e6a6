// Command sqltx is an interactive shell over an in-memory store. Each
// input line runs as one transaction through the engine; .begin/.end
// groups several statements into a single transaction.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/idokutela/sqltx/core/memstore"
	"github.com/idokutela/sqltx/core/shape"
	"github.com/idokutela/sqltx/core/txn"
	internaltelemetry "github.com/idokutela/sqltx/internal/telemetry"
	"github.com/idokutela/sqltx/pkg/logger"
	"github.com/idokutela/sqltx/pkg/telemetry"
)

const helpText = `statements run one per line, each in its own transaction
  .begin            start a multi-statement transaction
  .end              run the statements collected since .begin
  .abort            discard the statements collected since .begin
  .mode ro|rw       switch between read-only and read-write transactions
  .version          print the database version
  .migrate F T SQL  run SQL in a change-version transaction F -> T
  .help             this text
  .quit             exit`

func main() {
	dbVersion := flag.String("db-version", "1.0", "initial database version")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "console", "log format (console or json)")
	metricsPort := flag.Int("metrics-port", 0, "expose prometheus /metrics on this port (0 disables)")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel, Format: *logFormat, OutputFile: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tel, telShutdown, err := telemetry.New(telemetry.Config{
		Enabled:        *metricsPort > 0,
		ServiceName:    "sqltx",
		PrometheusPort: *metricsPort,
	})
	if err != nil {
		log.Fatal("failed to set up telemetry", zap.Error(err))
	}
	defer telShutdown(context.Background())

	metrics, err := internaltelemetry.NewTxnMetrics(tel.Meter)
	if err != nil {
		log.Fatal("failed to register metrics", zap.Error(err))
	}

	sh := &shell{
		db: memstore.Open(*dbVersion, log),
		base: txn.Options{
			Logger:  log,
			Metrics: metrics,
			Tracer:  tel.Tracer,
		},
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "sqltx> ",
		InterruptPrompt: "^C",
	})
	if err != nil {
		log.Fatal("failed to start readline", zap.Error(err))
	}
	defer rl.Close()

	fmt.Println("sqltx shell; .help for commands")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			sh.abortBatch(rl)
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Error("read failed", zap.Error(err))
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ".") {
			if quit := sh.meta(rl, line); quit {
				return
			}
			continue
		}
		if sh.batch != nil {
			sh.batch = append(sh.batch, line)
			continue
		}
		sh.runBatch([]string{line})
	}
}

type shell struct {
	db       *memstore.DB
	base     txn.Options
	readOnly bool
	// batch is non-nil while collecting statements between .begin and
	// .end; it may be empty.
	batch []string
}

func (sh *shell) abortBatch(rl *readline.Instance) {
	if sh.batch != nil {
		sh.batch = nil
		rl.SetPrompt("sqltx> ")
		fmt.Println("transaction discarded")
	}
}

// meta handles dot-commands; it reports whether the shell should exit.
func (sh *shell) meta(rl *readline.Instance, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".quit", ".exit":
		return true
	case ".help":
		fmt.Println(helpText)
	case ".begin":
		if sh.batch != nil {
			fmt.Println("already in a transaction; .end or .abort first")
			break
		}
		sh.batch = []string{}
		rl.SetPrompt("  ...> ")
	case ".end":
		if sh.batch == nil {
			fmt.Println("no transaction in progress")
			break
		}
		stmts := sh.batch
		sh.batch = nil
		rl.SetPrompt("sqltx> ")
		sh.runBatch(stmts)
	case ".abort":
		if sh.batch == nil {
			fmt.Println("no transaction in progress")
			break
		}
		sh.abortBatch(rl)
	case ".mode":
		if len(fields) != 2 || (fields[1] != "ro" && fields[1] != "rw") {
			fmt.Println("usage: .mode ro|rw")
			break
		}
		sh.readOnly = fields[1] == "ro"
		fmt.Printf("transactions are now %s\n", map[bool]string{true: "read-only", false: "read-write"}[sh.readOnly])
	case ".version":
		fmt.Println(sh.db.Version())
	case ".migrate":
		if len(fields) < 4 {
			fmt.Println("usage: .migrate <from> <to> <sql>")
			break
		}
		sh.migrate(fields[1], fields[2], fieldsTail(line, 3))
	default:
		fmt.Printf("unknown command %s; .help for help\n", fields[0])
	}
	return false
}

// runBatch executes the statements in one transaction and prints each
// result. Any statement error rolls the whole batch back.
func (sh *shell) runBatch(stmts []string) {
	opts := sh.base
	if sh.readOnly {
		opts.Kind = txn.KindReadOnly
	}
	results, err := txn.Run(sh.db, opts, func(tx *txn.Tx) ([]*shape.Result, error) {
		out := make([]*shape.Result, 0, len(stmts))
		for _, s := range stmts {
			res, err := tx.Full(s, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		return out, nil
	})
	if err != nil {
		fmt.Printf("error: %v (transaction rolled back)\n", err)
		return
	}
	for _, res := range results {
		printResult(res)
	}
}

func (sh *shell) migrate(from, to, sqlText string) {
	opts := sh.base
	opts.Kind = txn.KindChangeVersion
	opts.FromVersion = from
	opts.ToVersion = to
	_, err := txn.Run(sh.db, opts, func(tx *txn.Tx) (struct{}, error) {
		return struct{}{}, tx.Exec(sqlText, nil)
	})
	if err != nil {
		fmt.Printf("migration failed: %v\n", err)
		return
	}
	fmt.Printf("database is now at version %s\n", sh.db.Version())
}

// fieldsTail returns what remains of line after its first n
// whitespace-separated fields, however the fields are spaced.
func fieldsTail(line string, n int) string {
	rest := line
	for i := 0; i < n; i++ {
		rest = strings.TrimLeft(rest, " \t")
		j := strings.IndexAny(rest, " \t")
		if j < 0 {
			return ""
		}
		rest = rest[j:]
	}
	return strings.TrimSpace(rest)
}

func printResult(res *shape.Result) {
	for _, row := range res.Rows {
		parts := make([]string, 0, len(row))
		for k, v := range row {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		fmt.Println(strings.Join(parts, "  "))
	}
	if res.InsertID != nil {
		fmt.Printf("insert id %d\n", *res.InsertID)
	}
	if res.RowsAffected != nil {
		fmt.Printf("%d row(s) affected\n", *res.RowsAffected)
	}
}
