package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/transport"
)

func newLoginCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login-check",
		Short: "Verify SSH connectivity and remote root access without syncing",
		RunE:  runLoginCheck,
	}

	flags := cmd.Flags()
	flags.String("server", "", "remote host (required)")
	flags.Int("port", 22, "SSH port")
	flags.String("username", "", "SSH username")
	flags.String("private-key", "", "path to an SSH private key")
	flags.String("known-hosts", "", "path to a known_hosts file (default ~/.ssh/known_hosts)")
	flags.Bool("insecure-ignore-host-key", false, "skip host key verification (dangerous, opt-in only)")
	flags.String("remote", "", "remote root directory to check for existence")

	return cmd
}

func runLoginCheck(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	port, _ := cmd.Flags().GetInt("port")
	username, _ := cmd.Flags().GetString("username")
	privateKey, _ := cmd.Flags().GetString("private-key")
	knownHosts, _ := cmd.Flags().GetString("known-hosts")
	insecureHostKey, _ := cmd.Flags().GetBool("insecure-ignore-host-key")
	remoteRoot, _ := cmd.Flags().GetString("remote")

	if server == "" {
		return fmt.Errorf("--server is required")
	}

	session, err := transport.Dial(transport.Config{
		Host:                  server,
		Port:                  port,
		User:                  username,
		PrivateKeyPath:        privateKey,
		KnownHostsPath:        knownHosts,
		InsecureIgnoreHostKey: insecureHostKey,
	})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", server, err)
	}
	defer session.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s connected as %s@%s:%d\n", green("✓"), username, server, port)

	if remoteRoot == "" {
		return nil
	}

	exists, err := session.Exists(remoteRoot)
	if err != nil {
		return fmt.Errorf("check remote root %s: %w", remoteRoot, err)
	}
	if exists {
		fmt.Fprintf(out, "%s remote root %s exists\n", green("✓"), remoteRoot)
	} else {
		fmt.Fprintf(out, "%s remote root %s does not exist\n", yellow("!"), remoteRoot)
	}
	return nil
}

var (
	green  = color.New(color.FgHiGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgHiYellow, color.Bold).SprintFunc()
)
