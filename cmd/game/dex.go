package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/storage"
	"github.com/tatianab/trainer-tales/internal/storage/archive"
)

var dexFetch bool

var dexCmd = &cobra.Command{
	Use:   "dex",
	Short: "Inspect the canon cache of a session",
}

var dexGetCmd = &cobra.Command{
	Use:   "get <session-id> <kind> <key>",
	Short: "Print a cached canon entry",
	Long: `Prints a fresh cache entry. With --fetch a miss is fetched from
TT_DEX_BASE_URL and stored in the session.`,
	Args: cobra.ExactArgs(3),
	RunE: runDexGet,
}

var dexInvalidateCmd = &cobra.Command{
	Use:   "invalidate <session-id> <kind> [key]",
	Short: "Drop a cached entry, or a whole kind",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runDexInvalidate,
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate session documents",
	Long: `Validates JSON documents or .json.zst archives against the session
schema and reports every violation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	dexGetCmd.Flags().BoolVar(&dexFetch, "fetch", false, "Fetch and store the entry on a miss")

	dexCmd.AddCommand(dexGetCmd)
	dexCmd.AddCommand(dexInvalidateCmd)
}

func runDexGet(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	svc := a.dexService(logger)
	kind := models.CanonKind(args[1])
	var entry models.CacheEntry
	if dexFetch {
		entry, err = svc.Lookup(cmd.Context(), args[0], kind, args[2])
		if err != nil {
			return err
		}
	} else {
		var ok bool
		entry, ok, err = svc.Get(cmd.Context(), args[0], kind, args[2])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Not cached (use --fetch to look it up).")
			return nil
		}
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(entry); err != nil {
		return err
	}
	return enc.Close()
}

func runDexInvalidate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	key := ""
	if len(args) == 3 {
		key = args[2]
	}
	n, err := a.dexService(logger).Invalidate(cmd.Context(), args[0], models.CanonKind(args[1]), key)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d entries\n", n)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	v, err := schema.Default()
	if err != nil {
		return err
	}
	failed := 0
	for _, path := range args {
		if err := validateFile(v, path); err != nil {
			failed++
			fmt.Printf("%s: invalid\n", path)
			if vs, ok := schema.AsViolations(err); ok {
				for _, violation := range vs {
					fmt.Printf("  - %s\n", violation)
				}
			} else {
				fmt.Printf("  - %v\n", err)
			}
			continue
		}
		fmt.Printf("%s: ok\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents are invalid", failed, len(args))
	}
	return nil
}

func validateFile(v *schema.Validator, path string) error {
	if strings.HasSuffix(path, archive.Ext) {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = archive.Import(v, f)
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = storage.Decode(v, data)
	return err
}
