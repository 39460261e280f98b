package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobscout/internal/console"
	"github.com/amishk599/jobscout/internal/model"
)

var (
	wlCompany string
	wlATS     string
	wlBy      string
)

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Review and approve hosting domains",
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add <domain>",
	Short: "Approve a domain so its postings score as trusted",
	Args:  cobra.ExactArgs(1),
	RunE:  runWhitelistAdd,
}

var whitelistPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List domains whose postings await approval",
	RunE:  runWhitelistPending,
}

func init() {
	whitelistAddCmd.Flags().StringVar(&wlCompany, "company", "", "company operating the domain")
	whitelistAddCmd.Flags().StringVar(&wlATS, "ats", "", "ATS or hosting platform behind the domain")
	whitelistAddCmd.Flags().StringVar(&wlBy, "by", os.Getenv("USER"), "reviewer recording the approval")
	whitelistCmd.AddCommand(whitelistAddCmd, whitelistPendingCmd)
	rootCmd.AddCommand(whitelistCmd)
}

func runWhitelistAdd(cmd *cobra.Command, args []string) error {
	domain := strings.ToLower(strings.TrimSpace(args[0]))
	if domain == "" || strings.Contains(domain, "/") {
		return fmt.Errorf("expected a bare domain such as example.com, got %q", args[0])
	}
	if wlBy == "" {
		return fmt.Errorf("--by is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.UpsertWhitelist(cmd.Context(), model.Whitelist{
		DomainRoot:  domain,
		CompanyName: wlCompany,
		ATSType:     wlATS,
		ApprovedBy:  wlBy,
		ApprovedAt:  time.Now(),
	}); err != nil {
		return err
	}
	fmt.Printf("approved %s (by %s)\n", domain, wlBy)
	return nil
}

func runWhitelistPending(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pending, err := st.PendingDomains(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println(console.RenderPending(pending))
	return nil
}
