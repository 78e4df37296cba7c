package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

var rpcEndpoint = defaultRPCEndpoint() // RPC_URL or --rpc override the localhost default
var rpcAuthToken = os.Getenv("EVL_RPC_TOKEN")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	rest := args[1:]
	switch args[0] {
	case "generate-key":
		return runGenerateKey(rest, stdout, stderr)
	case "commitment":
		return runCommitment(rest, stdout, stderr)
	case "sign-registration":
		return runSignRegistration(rest, stdout, stderr)
	case "admin-token":
		return runAdminToken(rest, stdout, stderr)
	case "register":
		return runRegister(rest, stdout, stderr)
	case "promote":
		return runPromote(rest, stdout, stderr)
	case "user":
		return runUser(rest, stdout, stderr)
	case "params":
		return runQuery("evolution_getParams", rest, stdout, stderr)
	case "criteria":
		return runQuery("evolution_getCriteria", rest, stdout, stderr)
	case "get-approver":
		return runQuery("evolution_getApprover", rest, stdout, stderr)
	case "preview-reward":
		return runPreviewReward(rest, stdout, stderr)
	case "set-approver":
		return runSetApprover(rest, stdout, stderr)
	case "set-percentages":
		return runSetPercentages(rest, stdout, stderr)
	case "set-criteria":
		return runSetCriteria(rest, stdout, stderr)
	case "set-whitelist":
		return runSetWhitelist(rest, stdout, stderr)
	case "transfer-ownership":
		return runTransferOwnership(rest, stdout, stderr)
	case "pay-reward":
		return runPayReward(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			if arg == "--rpc" {
				rpcEndpoint = args[i+1]
			} else {
				rpcAuthToken = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		case strings.HasPrefix(arg, "--token="):
			rpcAuthToken = strings.TrimPrefix(arg, "--token=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func usage() string {
	return `Usage: evl-cli [--rpc URL] [--token JWT] <command> [flags]

Local commands:
  generate-key        create a key (--keystore PATH or hex on stdout)
  commitment          compute a registration commitment
  sign-registration   sign a registration commitment with an approver key
  admin-token         mint an admin bearer token for the owner address

Node commands:
  register            submit an approved registration
  promote             promote a user one level
  user                show a registered user
  params              show evolution parameters
  criteria            show the criteria table
  get-approver        show the configured approver
  preview-reward      compute a reward for a level and base amount

Admin commands (require EVL_RPC_TOKEN or --token):
  set-approver        replace the approver
  set-percentages     replace the reward percentage table
  set-criteria        set criteria rows (--row level:referrals:verified:amount, repeatable)
  set-whitelist       set fee whitelist flags
  transfer-ownership  hand ownership to a new address
  pay-reward          credit a reward to a user`
}
