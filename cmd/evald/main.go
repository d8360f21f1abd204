// evald is the admin entrypoint for the call-evaluation policy engine:
// it validates and hashes policy documents, seeds drafts from them, and
// drives the publish/rollback lifecycle against the version store.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/voxaudit/engine/pkg/config"
	"github.com/voxaudit/engine/pkg/policyver"
	"github.com/voxaudit/engine/pkg/rubric"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	setupLogging()

	switch args[1] {
	case "validate":
		return runValidate(args[2:], stdout, stderr)
	case "hash":
		return runHash(args[2:], stdout, stderr)
	case "import":
		return runImport(args[2:], stdout, stderr)
	case "publish":
		return runPublish(args[2:], stdout, stderr)
	case "rollback":
		return runRollback(args[2:], stdout, stderr)
	case "versions":
		return runVersions(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: evald <command> [args]

commands:
  validate <file>                 validate a policy document
  hash <file>                     print a document rule set's content hash
  import <file>                   create a draft seeded from a document
  publish [-doc <file>] <template-id> [reason]
                                  publish the template's open draft; with
                                  -doc, the document's rubric gates the publish
  rollback <template-id> <version-id> [reason]
                                  open a draft seeded from a prior version
  versions <template-id>          list a template's versions
  verify <version-id>             recompute and check a version's hash`)
}

func setupLogging() {
	level := slog.LevelInfo
	if strings.EqualFold(config.Load().LogLevel, "debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: evald validate <file>")
		return 2
	}

	doc, err := config.LoadPolicyDocument(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := doc.Validate(nil); err != nil {
		fmt.Fprintf(stderr, "invalid: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "ok: %d rules", len(doc.Rules))
	if doc.Rubric != nil {
		fmt.Fprintf(stdout, ", rubric %q (%d categories)", doc.Rubric.Name, len(doc.Rubric.Categories))
	}
	fmt.Fprintln(stdout)
	return 0
}

func runHash(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: evald hash <file>")
		return 2
	}
	doc, err := config.LoadPolicyDocument(args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	hash, err := doc.RuleSet().Hash()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, hash)
	return 0
}

func runImport(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: evald import <file>")
		return 2
	}
	doc, err := config.LoadPolicyDocument(args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := doc.Validate(nil); err != nil {
		fmt.Fprintf(stderr, "invalid: %v\n", err)
		return 1
	}

	mgr, _, db, err := openEnv()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	draft, err := mgr.CreateDraft(ctx, doc.TemplateID, "", "")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := mgr.UpdateDraftRules(ctx, draft.ID, doc.RuleSet()); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "draft %s created for template %s\n", draft.ID, doc.TemplateID)
	return 0
}

func runPublish(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(stderr)
	docPath := fs.String("doc", "", "policy document whose rubric gates the publish")
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		fmt.Fprintln(stderr, "usage: evald publish [-doc <file>] <template-id> [reason]")
		return 2
	}
	templateID := fs.Arg(0)
	reason := strings.Join(fs.Args()[1:], " ")

	mgr, store, db, err := openEnv()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	if *docPath != "" {
		doc, err := config.LoadPolicyDocument(*docPath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		if doc.TemplateID != templateID {
			fmt.Fprintf(stderr, "document is for template %s, not %s\n", doc.TemplateID, templateID)
			return 1
		}
		mgr = policyver.NewManager(store, policyver.WithRubricSource(docRubric{tmpl: doc.Rubric}))
	}

	ctx := context.Background()
	draft, err := store.OpenDraft(ctx, templateID)
	if err != nil {
		fmt.Fprintf(stderr, "no open draft for template %s: %v\n", templateID, err)
		return 1
	}
	published, err := mgr.Publish(ctx, draft.ID, reason)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "published version %d (%s)\nrules_hash: %s\n",
		published.VersionNumber, published.ID, published.RulesHash)
	return 0
}

func runRollback(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "usage: evald rollback <template-id> <version-id> [reason]")
		return 2
	}
	templateID, versionID := args[0], args[1]
	reason := strings.Join(args[2:], " ")

	mgr, _, db, err := openEnv()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	draft, err := mgr.Rollback(context.Background(), templateID, versionID, reason)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "rollback draft %s created from version %s; review and publish to go live\n",
		draft.ID, versionID)
	return 0
}

func runVersions(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: evald versions <template-id>")
		return 2
	}

	_, store, db, err := openEnv()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	versions, err := store.ListVersions(context.Background(), args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return exitOn(enc.Encode(versions), stderr)
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: evald verify <version-id>")
		return 2
	}

	mgr, _, db, err := openEnv()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	ok, err := mgr.VerifyHash(context.Background(), args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if !ok {
		fmt.Fprintln(stdout, "MISMATCH: stored hash does not match recomputed content hash")
		return 1
	}
	fmt.Fprintln(stdout, "ok: content hash verified")
	return 0
}

// docRubric serves the rubric carried by a policy document on disk so
// publish can enforce the weight-sum invariant. Documents without a
// rubric leave the publish ungated.
type docRubric struct {
	tmpl *rubric.Template
}

func (d docRubric) ActiveRubric(context.Context, string) (*rubric.Template, error) {
	return d.tmpl, nil
}

func openEnv() (*policyver.Manager, policyver.Store, *sql.DB, error) {
	cfg := config.Load()
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	var store policyver.Store
	switch cfg.DBDriver {
	case "postgres":
		store, err = policyver.NewPostgresStore(db)
	default:
		store, err = policyver.NewSQLiteStore(db)
	}
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return policyver.NewManager(store), store, db, nil
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		return sql.Open("postgres", cfg.DBDSN)
	default:
		return sql.Open("sqlite", cfg.DBDSN)
	}
}

func exitOn(err error, stderr io.Writer) int {
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
