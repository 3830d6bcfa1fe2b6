package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tatianab/trainer-tales/internal/engine"
	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/storage"
	"github.com/tatianab/trainer-tales/internal/storage/archive"
)

var (
	sessionsCampaign string
	showYAML         bool
	showSummary      bool
	exportOut        string
	importForce      bool
	deleteArchive    bool
	campaignArchive  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved sessions",
	Long: `List and manage saved sessions.

Subcommands:
  list    - List saved sessions
  show    - Print a session document
  delete  - Delete a session
  export  - Write a compressed archive of a session
  import  - Store a session from an archive`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session document",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Write a compressed archive of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsExport,
}

var sessionsImportCmd = &cobra.Command{
	Use:   "import <archive>",
	Short: "Store a session from an archive",
	Long: `Reads a .json.zst archive, validates it and stores it. An existing
session with the same id is only replaced with --force.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsImport,
}

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Manage campaigns",
}

var campaignDeleteCmd = &cobra.Command{
	Use:   "delete <campaign-id>",
	Short: "Delete every session of a campaign",
	Long: `Deletes every session that belongs to the campaign. With --archive (and
TT_ARCHIVE_DIR set) each session is archived first; a session whose archive
fails is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runCampaignDelete,
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsCampaign, "campaign", "", "Only list sessions of this campaign")
	sessionsCmd.Flags().StringVar(&sessionsCampaign, "campaign", "", "Only list sessions of this campaign")
	sessionsShowCmd.Flags().BoolVar(&showYAML, "yaml", false, "Print YAML instead of JSON")
	sessionsShowCmd.Flags().BoolVar(&showSummary, "summary", false, "Print the reduced view agents see")
	sessionsExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: <session-id>.json.zst)")
	sessionsImportCmd.Flags().BoolVar(&importForce, "force", false, "Replace an existing session")
	sessionsDeleteCmd.Flags().BoolVar(&deleteArchive, "archive", false, "Archive to TT_ARCHIVE_DIR before deleting")
	campaignDeleteCmd.Flags().BoolVar(&campaignArchive, "archive", true, "Archive to TT_ARCHIVE_DIR before deleting")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)
	sessionsCmd.AddCommand(sessionsImportCmd)
	campaignCmd.AddCommand(campaignDeleteCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.store.List(cmd.Context(), sessionsCampaign)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No saved sessions found.")
		return nil
	}

	fmt.Println("Saved Sessions")
	fmt.Println(strings.Repeat("─", 50))
	for i, id := range ids {
		fmt.Printf("  %d. %s\n", i+1, id)
	}
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Total: %d sessions\n", len(ids))
	fmt.Println("\nUse: game play --session <session-id>")
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case showSummary:
		_, err = fmt.Fprint(out, engine.ToPromptState(doc).YAML())
		return err
	case showYAML:
		// Round-trip through the JSON form so YAML keys match the document.
		m, err := models.ToMap(doc)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	id := args[0]
	unlock, err := a.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if deleteArchive {
		dir, err := archiveDir(a.validator)
		if err != nil {
			return err
		}
		doc, err := a.store.Load(ctx, id)
		if err != nil {
			return err
		}
		path, err := dir.Archive(ctx, doc)
		if err != nil {
			return fmt.Errorf("archive session %s: %w", id, err)
		}
		fmt.Printf("Archived to %s\n", path)
	}

	ok, err := a.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	a.memory.DropSession(id)
	logger.Info("session deleted", zap.String("session_id", id))
	fmt.Printf("Deleted %s\n", id)
	return nil
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	path := exportOut
	if path == "" {
		path = args[0] + archive.Ext
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := archive.Export(a.validator, f, doc); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Exported %s to %s\n", args[0], path)
	return nil
}

func runSessionsImport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	doc, err := archive.Import(a.validator, f)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	id := doc.Session.SessionID
	unlock, err := a.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := a.store.Load(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		doc.StateVersioning.Revision = 0
	case err != nil:
		return err
	case !importForce:
		return fmt.Errorf("session %s already exists (use --force to replace it)", id)
	default:
		doc.StateVersioning.Revision = existing.StateVersioning.Revision
		a.memory.DropSession(id)
	}
	if err := a.store.Save(ctx, doc); err != nil {
		return err
	}
	fmt.Printf("Imported %s (revision %d)\n", id, doc.StateVersioning.Revision)
	return nil
}

func runCampaignDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var archiver storage.Archiver
	if campaignArchive && cfg.ArchiveDir != "" {
		dir, err := archiveDir(a.validator)
		if err != nil {
			return err
		}
		archiver = dir
	}
	n, err := storage.DeleteCampaign(cmd.Context(), a.store, archiver, args[0])
	fmt.Printf("Deleted %d sessions of campaign %s\n", n, args[0])
	return err
}

func archiveDir(v *schema.Validator) (*archive.Dir, error) {
	if cfg.ArchiveDir == "" {
		return nil, fmt.Errorf("TT_ARCHIVE_DIR is not set")
	}
	return archive.NewDir(filepath.Clean(cfg.ArchiveDir), v)
}
