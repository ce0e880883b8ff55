package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/dochead"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/metrics"
	"github.com/mbme/arhiv-sub000/pkg/query"
	"github.com/spf13/cobra"
)

var stageCmd = &cobra.Command{
	Use:   "stage TYPE",
	Short: "Stage a new document, or a new revision of an existing one",
	Long: `Stage a document for TYPE with the given --data JSON object.

Pass --id to edit an existing document; omit it to create a new one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		documentType := args[0]

		idFlag, _ := cmd.Flags().GetString("id")
		subtype, _ := cmd.Flags().GetString("subtype")
		dataFlag, _ := cmd.Flags().GetString("data")
		lockKey, _ := cmd.Flags().GetString("lock-key")

		var fields map[string]json.RawMessage
		if dataFlag != "" {
			if err := json.Unmarshal([]byte(dataFlag), &fields); err != nil {
				return fmt.Errorf("invalid --data JSON: %v", err)
			}
		}

		id := arhivid.NewId()
		if idFlag != "" {
			id = arhivid.Id(idFlag)
		}

		now := time.Now().UTC()
		doc := &document.Document{
			Id:           id,
			DocumentType: documentType,
			Subtype:      subtype,
			CreatedAt:    now,
			UpdatedAt:    now,
			Data:         document.Data{},
		}
		for field, raw := range fields {
			doc.Data.SetRaw(field, raw)
		}

		mgr := newManager(cmd)
		wg, err := openWrite(cmd, mgr)
		if err != nil {
			return err
		}
		defer wg.Close()

		timer := metrics.NewTimer()
		stageErr := wg.Stage(doc, lockKey)
		timer.ObserveDuration(metrics.StageDuration)
		if stageErr != nil {
			return fmt.Errorf("failed to stage document: %v", stageErr)
		}
		if err := wg.SaveChanges(); err != nil {
			return fmt.Errorf("failed to save staged changes: %v", err)
		}

		fmt.Printf("✓ Staged %s\n", id)
		return nil
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit every staged edit into a fresh revision",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := newManager(cmd)
		wg, err := openWrite(cmd, mgr)
		if err != nil {
			return err
		}
		defer wg.Close()

		timer := metrics.NewTimer()
		committed, err := wg.Commit()
		timer.ObserveDuration(metrics.CommitDuration)
		if err != nil {
			metrics.CommitFailuresTotal.Inc()
			return fmt.Errorf("commit failed: %v", err)
		}
		metrics.CommitsTotal.Inc()

		fmt.Printf("✓ Committed %d document(s)\n", len(committed))
		for _, doc := range committed {
			fmt.Printf("  %s  %s\n", doc.Id, doc.DocumentType)
		}

		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Print one document's current head",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := arhivid.Id(args[0])

		mgr := newManager(cmd)
		rg, err := openRead(cmd, mgr)
		if err != nil {
			return err
		}
		defer rg.Close()

		head, err := rg.MustGet(id)
		if err != nil {
			return fmt.Errorf("failed to get document: %v", err)
		}

		printHead(head)
		return nil
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase ID",
	Short: "Tombstone a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := arhivid.Id(args[0])

		mgr := newManager(cmd)
		wg, err := openWrite(cmd, mgr)
		if err != nil {
			return err
		}
		defer wg.Close()

		if err := wg.Erase(id); err != nil {
			return fmt.Errorf("failed to erase document: %v", err)
		}
		if err := wg.SaveChanges(); err != nil {
			return fmt.Errorf("failed to save staged changes: %v", err)
		}

		fmt.Printf("✓ Erased %s\n", id)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset ID",
	Short: "Drop a document's pending staged edit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := arhivid.Id(args[0])
		lockKey, _ := cmd.Flags().GetString("lock-key")

		mgr := newManager(cmd)
		wg, err := openWrite(cmd, mgr)
		if err != nil {
			return err
		}
		defer wg.Close()

		if err := wg.Reset(id, lockKey); err != nil {
			return fmt.Errorf("failed to reset document: %v", err)
		}
		if err := wg.SaveChanges(); err != nil {
			return fmt.Errorf("failed to save staged changes: %v", err)
		}

		fmt.Printf("✓ Reset %s\n", id)
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock ID",
	Short: "Lock a document against concurrent edits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := arhivid.Id(args[0])
		reason, _ := cmd.Flags().GetString("reason")

		mgr := newManager(cmd)
		wg, err := openWrite(cmd, mgr)
		if err != nil {
			return err
		}
		defer wg.Close()

		key, err := wg.LockDocument(id, reason)
		if err != nil {
			return fmt.Errorf("failed to lock document: %v", err)
		}
		if err := wg.SaveChanges(); err != nil {
			return fmt.Errorf("failed to save staged changes: %v", err)
		}

		fmt.Printf("✓ Locked %s\n", id)
		fmt.Printf("  Key: %s\n", key)
		return nil
	},
}

var unlockDocCmd = &cobra.Command{
	Use:   "unlock-doc ID",
	Short: "Release a document's lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := arhivid.Id(args[0])
		key, _ := cmd.Flags().GetString("key")
		force, _ := cmd.Flags().GetBool("force")

		mgr := newManager(cmd)
		wg, err := openWrite(cmd, mgr)
		if err != nil {
			return err
		}
		defer wg.Close()

		var unlockErr error
		if force {
			unlockErr = wg.UnlockDocumentWithoutKey(id)
		} else {
			unlockErr = wg.UnlockDocument(id, key)
		}
		if unlockErr != nil {
			return fmt.Errorf("failed to unlock document: %v", unlockErr)
		}
		if err := wg.SaveChanges(); err != nil {
			return fmt.Errorf("failed to save staged changes: %v", err)
		}

		fmt.Printf("✓ Unlocked %s\n", id)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Filter, search, order and paginate over the archive's current view",
	RunE: func(cmd *cobra.Command, args []string) error {
		documentType, _ := cmd.Flags().GetString("type")
		search, _ := cmd.Flags().GetString("search")
		onlyStaged, _ := cmd.Flags().GetBool("staged")
		skipErased, _ := cmd.Flags().GetBool("skip-erased")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		pageOffset, _ := cmd.Flags().GetInt("page-offset")

		filter := query.Filter{
			SearchPattern: search,
			OnlyStaged:    onlyStaged,
			SkipErased:    skipErased,
			PageSize:      pageSize,
			PageOffset:    pageOffset,
		}
		if documentType != "" {
			filter.DocumentTypes = []string{documentType}
		}

		mgr := newManager(cmd)
		rg, err := openRead(cmd, mgr)
		if err != nil {
			return err
		}
		defer rg.Close()

		result := rg.Query(filter)
		if len(result.Items) == 0 {
			fmt.Println("No documents found")
			return nil
		}

		sch := rg.GetSchema()
		fmt.Printf("%-24s %-12s %-40s\n", "ID", "TYPE", "TITLE")
		fmt.Println(strings.Repeat("-", 78))
		for _, doc := range result.Items {
			title := sch.TitleFormat(doc.DocumentType, doc.Data)
			fmt.Printf("%-24s %-12s %-40s\n", doc.Id, doc.DocumentType, title)
		}
		if result.HasMore {
			fmt.Println("(more results available, raise --page-size or --page-offset)")
		}

		return nil
	},
}

func printHead(head *dochead.Head) {
	fmt.Printf("Staged:   %t\n", head.IsStaged())
	fmt.Printf("Conflict: %t\n", head.IsConflict())
}

func init() {
	stageCmd.Flags().String("id", "", "Document id (omit to create a new document)")
	stageCmd.Flags().String("subtype", "", "Document subtype")
	stageCmd.Flags().String("data", "{}", "Document fields as a JSON object")
	stageCmd.Flags().String("lock-key", "", "Lock key, required if the document is locked")
	addPasswordFlag(stageCmd)

	addPasswordFlag(commitCmd)
	addPasswordFlag(getCmd)

	addPasswordFlag(eraseCmd)

	resetCmd.Flags().String("lock-key", "", "Lock key, required if the document is locked")
	addPasswordFlag(resetCmd)

	lockCmd.Flags().String("reason", "", "Human-readable reason for the lock")
	addPasswordFlag(lockCmd)

	unlockDocCmd.Flags().String("key", "", "Lock key returned by 'arhiv lock'")
	unlockDocCmd.Flags().Bool("force", false, "Unlock without the key (administrative override)")
	addPasswordFlag(unlockDocCmd)

	queryCmd.Flags().String("type", "", "Restrict to one document type")
	queryCmd.Flags().String("search", "", "Full-text search pattern")
	queryCmd.Flags().Bool("staged", false, "Only documents with a pending staged edit")
	queryCmd.Flags().Bool("skip-erased", true, "Exclude erased documents")
	queryCmd.Flags().Int("page-size", 50, "Maximum results per page")
	queryCmd.Flags().Int("page-offset", 0, "Results to skip before the page starts")
	addPasswordFlag(queryCmd)
}
