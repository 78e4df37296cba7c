package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

type criterionRow struct {
	MinReferrals         uint64 `json:"minReferrals"`
	MinVerifiedReferrals uint64 `json:"minVerifiedReferrals"`
	MinAmount            string `json:"minAmount"`
}

func requireFlag(stderr io.Writer, name, value string) bool {
	if strings.TrimSpace(value) == "" {
		fmt.Fprintf(stderr, "Error: --%s is required\n", name)
		return false
	}
	return true
}

func noPositional(fs *flag.FlagSet, stderr io.Writer) bool {
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func runQuery(method string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(method, flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !noPositional(fs, stderr) {
		return 1
	}
	return invoke(method, nil, false, stdout, stderr)
}

func runUserMethod(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var user string
	fs.StringVar(&user, "user", "", "user address (hex or bech32)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !noPositional(fs, stderr) || !requireFlag(stderr, "user", user) {
		return 1
	}
	return invoke(method, map[string]string{"user": strings.TrimSpace(user)}, false, stdout, stderr)
}

func runPromote(args []string, stdout, stderr io.Writer) int {
	return runUserMethod("promote", "evolution_promote", args, stdout, stderr)
}

func runUser(args []string, stdout, stderr io.Writer) int {
	return runUserMethod("user", "evolution_getUser", args, stdout, stderr)
}

// runRegister submits a registration. Parameters come from flags or from an
// approval document produced by sign-registration or approverd.
func runRegister(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var approvalPath, user, vtRaw, referrer, commitment, signature string
	var ts uint64
	fs.StringVar(&approvalPath, "approval", "", "JSON approval file (\"-\" for stdin)")
	fs.StringVar(&user, "user", "", "registering user address")
	fs.StringVar(&vtRaw, "type", "", "verification type (device or orb)")
	fs.StringVar(&referrer, "referrer", "", "referrer address")
	fs.Uint64Var(&ts, "timestamp", 0, "approval timestamp")
	fs.StringVar(&commitment, "commitment", "", "claimed commitment hash")
	fs.StringVar(&signature, "signature", "", "approver signature")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !noPositional(fs, stderr) {
		return 1
	}

	var payload registrationPayload
	if strings.TrimSpace(approvalPath) != "" {
		if err := readApproval(approvalPath, &payload); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	if user != "" {
		payload.User = user
	}
	if vtRaw != "" {
		vt, err := parseVerificationType(vtRaw)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		payload.VerificationType = uint8(vt)
	}
	if referrer != "" {
		payload.Referrer = referrer
	}
	if isSet(fs, "timestamp") {
		payload.Timestamp = ts
	}
	if commitment != "" {
		payload.Commitment = commitment
	}
	if signature != "" {
		payload.Signature = signature
	}
	if !requireFlag(stderr, "user", payload.User) || !requireFlag(stderr, "signature", payload.Signature) {
		return 1
	}
	payload.Approver = ""
	return invoke("evolution_register", payload, false, stdout, stderr)
}

func readApproval(path string, out *registrationPayload) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read approval: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode approval: %w", err)
	}
	return nil
}

func runPreviewReward(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("preview-reward", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var level uint
	var base string
	fs.UintVar(&level, "level", 0, "evolution level")
	fs.StringVar(&base, "base", "", "base amount")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !noPositional(fs, stderr) || !requireFlag(stderr, "base", base) {
		return 1
	}
	if level > 255 {
		fmt.Fprintln(stderr, "Error: --level must fit in a byte")
		return 1
	}
	return invoke("evolution_previewReward", map[string]interface{}{"level": uint8(level), "base": base}, false, stdout, stderr)
}

func runSetApprover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("set-approver", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var approverAddr string
	fs.StringVar(&approverAddr, "approver", "", "new approver address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !noPositional(fs, stderr) || !requireFlag(stderr, "approver", approverAddr) {
		return 1
	}
	return invoke("evolution_setApprover", map[string]string{"approver": approverAddr}, true, stdout, stderr)
}

func runSetPercentages(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("set-percentages", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var raw string
	fs.StringVar(&raw, "values", "", "comma separated percentages in basis points, one per level")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !noPositional(fs, stderr) || !requireFlag(stderr, "values", raw) {
		return 1
	}
	parts := strings.Split(raw, ",")
	values := make([]uint64, len(parts))
	for i, part := range parts {
		v, err := parseUint("percentage", part, 64)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		values[i] = v
	}
	return invoke("evolution_setRewardPercentages", map[string]interface{}{"percentages": values}, true, stdout, stderr)
}

// runSetCriteria takes rows of the form level:referrals:verified:amount.
func runSetCriteria(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("set-criteria", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var rows stringList
	fs.Var(&rows, "row", "criteria row level:referrals:verified:amount (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !noPositional(fs, stderr) {
		return 1
	}
	if len(rows) == 0 {
		fmt.Fprintln(stderr, "Error: at least one --row is required")
		return 1
	}
	levels := make([]uint64, 0, len(rows))
	criteria := make([]criterionRow, 0, len(rows))
	for _, row := range rows {
		fields := strings.Split(row, ":")
		if len(fields) != 4 {
			fmt.Fprintf(stderr, "Error: malformed --row %q\n", row)
			return 1
		}
		level, err := parseUint("level", fields[0], 8)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		refs, err := parseUint("referrals", fields[1], 64)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		verified, err := parseUint("verified referrals", fields[2], 64)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		levels = append(levels, level)
		criteria = append(criteria, criterionRow{
			MinReferrals:         refs,
			MinVerifiedReferrals: verified,
			MinAmount:            strings.TrimSpace(fields[3]),
		})
	}
	return invoke("evolution_setCriteria", map[string]interface{}{"levels": levels, "criteria": criteria}, true, stdout, stderr)
}

// runSetWhitelist takes entries of the form address=true|false.
func runSetWhitelist(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("set-whitelist", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var entries stringList
	fs.Var(&entries, "set", "address=true|false (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !noPositional(fs, stderr) {
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(stderr, "Error: at least one --set is required")
		return 1
	}
	addrs := make([]string, 0, len(entries))
	flags := make([]bool, 0, len(entries))
	for _, entry := range entries {
		addr, value, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(addr) == "" {
			fmt.Fprintf(stderr, "Error: malformed --set %q\n", entry)
			return 1
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes":
			flags = append(flags, true)
		case "false", "0", "no":
			flags = append(flags, false)
		default:
			fmt.Fprintf(stderr, "Error: malformed --set %q\n", entry)
			return 1
		}
		addrs = append(addrs, strings.TrimSpace(addr))
	}
	return invoke("evolution_setWhitelistBatch", map[string]interface{}{"addresses": addrs, "flags": flags}, true, stdout, stderr)
}

func runTransferOwnership(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("transfer-ownership", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var owner string
	fs.StringVar(&owner, "owner", "", "new owner address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !noPositional(fs, stderr) || !requireFlag(stderr, "owner", owner) {
		return 1
	}
	return invoke("evolution_transferOwnership", map[string]string{"owner": owner}, true, stdout, stderr)
}

func runPayReward(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pay-reward", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var user, base string
	fs.StringVar(&user, "user", "", "user address")
	fs.StringVar(&base, "base", "", "base amount")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !noPositional(fs, stderr) || !requireFlag(stderr, "user", user) || !requireFlag(stderr, "base", base) {
		return 1
	}
	return invoke("evolution_payReward", map[string]string{"user": user, "base": base}, true, stdout, stderr)
}
