package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/approver"
	"evlvault/cmd/internal/passphrase"
	"evlvault/crypto"
	"evlvault/native/evolution"
	"evlvault/rpc"
)

const (
	keyPassEnv   = "EVL_KEY_PASS"
	jwtSecretEnv = "EVL_RPC_JWT_SECRET"
)

var keyPassphrase = func() (string, error) { return passphrase.NewSource(keyPassEnv).Get() }

var nowFn = time.Now

type keyFlags struct {
	hexKey   string
	keystore string
}

func (k *keyFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&k.hexKey, "key", "", "hex-encoded private key")
	fs.StringVar(&k.keystore, "keystore", "", "path to an encrypted keystore (passphrase from "+keyPassEnv+")")
}

func (k *keyFlags) load() (*crypto.PrivateKey, error) {
	if strings.TrimSpace(k.hexKey) == "" && strings.TrimSpace(k.keystore) == "" {
		return nil, fmt.Errorf("--key or --keystore is required")
	}
	return crypto.KeySource{KeystorePath: k.keystore, HexKey: k.hexKey}.Load(keyPassphrase)
}

func parseVerificationType(raw string) (evolution.VerificationType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "device", "0":
		return evolution.VerificationDevice, nil
	case "orb", "1":
		return evolution.VerificationOrb, nil
	default:
		return 0, fmt.Errorf("unknown verification type %q (want device or orb)", raw)
	}
}

func parseReferrer(raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return crypto.ParseAddress(raw)
}

// isSet reports whether name was passed explicitly on the command line.
func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// resolveTimestamp returns ts when --timestamp was given, including 0, and
// the current time otherwise.
func resolveTimestamp(fs *flag.FlagSet, ts uint64) uint64 {
	if isSet(fs, "timestamp") {
		return ts
	}
	return uint64(nowFn().Unix())
}

func writeJSON(w io.Writer, v interface{}) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(w, string(data))
	return 0
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var keystore string
	fs.StringVar(&keystore, "keystore", "", "write the key to an encrypted keystore instead of printing it")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	addr := key.PubKey().Address()
	out := map[string]string{
		"address": addr.Hex(),
		"bech32":  crypto.FromCommon(addr).String(),
	}
	if strings.TrimSpace(keystore) != "" {
		pass, err := keyPassphrase()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := crypto.SaveToKeystore(keystore, key, pass); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		out["keystore"] = keystore
	} else {
		out["privateKey"] = hex.EncodeToString(key.Bytes())
	}
	return writeJSON(stdout, out)
}

func runCommitment(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("commitment", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var vtRaw, referrerRaw string
	var ts uint64
	fs.StringVar(&vtRaw, "type", "device", "verification type (device or orb)")
	fs.StringVar(&referrerRaw, "referrer", "", "referrer address (empty for none)")
	fs.Uint64Var(&ts, "timestamp", 0, "unix timestamp (defaults to now)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	vt, err := parseVerificationType(vtRaw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	referrer, err := parseReferrer(referrerRaw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid --referrer: %v\n", err)
		return 1
	}
	ts = resolveTimestamp(fs, ts)
	return writeJSON(stdout, map[string]interface{}{
		"verificationType": uint8(vt),
		"referrer":         referrer.Hex(),
		"timestamp":        ts,
		"commitment":       evolution.MakeCommitment(vt, referrer, ts).Hex(),
		"encoded":          "0x" + hex.EncodeToString(evolution.EncodeCommitment(vt, referrer, ts)),
	})
}

// registrationPayload mirrors the evolution_register parameter object.
type registrationPayload struct {
	User             string `json:"user,omitempty"`
	VerificationType uint8  `json:"verificationType"`
	Referrer         string `json:"referrer,omitempty"`
	Timestamp        uint64 `json:"timestamp"`
	Commitment       string `json:"commitment,omitempty"`
	Signature        string `json:"signature"`
	Approver         string `json:"approver,omitempty"`
}

func runSignRegistration(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign-registration", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var keys keyFlags
	keys.register(fs)
	var vtRaw, referrerRaw, userRaw string
	var ts uint64
	fs.StringVar(&vtRaw, "type", "device", "verification type (device or orb)")
	fs.StringVar(&referrerRaw, "referrer", "", "referrer address (empty for none)")
	fs.StringVar(&userRaw, "user", "", "optional user address to embed in the output")
	fs.Uint64Var(&ts, "timestamp", 0, "unix timestamp (defaults to now)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	vt, err := parseVerificationType(vtRaw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	referrer, err := parseReferrer(referrerRaw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid --referrer: %v\n", err)
		return 1
	}
	var user string
	if strings.TrimSpace(userRaw) != "" {
		addr, err := crypto.ParseAddress(userRaw)
		if err != nil {
			fmt.Fprintf(stderr, "Error: invalid --user: %v\n", err)
			return 1
		}
		user = addr.Hex()
	}
	key, err := keys.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	signer, err := approver.NewSigner(key)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	approval, err := signer.SignRegistration(context.Background(), vt, referrer, resolveTimestamp(fs, ts))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	payload := registrationPayload{
		User:             user,
		VerificationType: uint8(approval.VerificationType),
		Timestamp:        approval.Timestamp,
		Commitment:       approval.Commitment.Hex(),
		Signature:        approval.Signature.Hex(),
		Approver:         approval.Approver.Hex(),
	}
	if referrer != (common.Address{}) {
		payload.Referrer = referrer.Hex()
	}
	return writeJSON(stdout, payload)
}

func runAdminToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("admin-token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var secret, issuer, subject string
	var ttl time.Duration
	fs.StringVar(&secret, "secret", os.Getenv(jwtSecretEnv), "HMAC secret shared with the node (defaults to "+jwtSecretEnv+")")
	fs.StringVar(&issuer, "issuer", "evlvault", "token issuer expected by the node")
	fs.StringVar(&subject, "subject", "", "caller address the token authenticates")
	fs.DurationVar(&ttl, "ttl", 15*time.Minute, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(subject) == "" {
		fmt.Fprintln(stderr, "Error: --subject is required")
		return 1
	}
	addr, err := crypto.ParseAddress(subject)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid --subject: %v\n", err)
		return 1
	}
	token, err := rpc.IssueAdminToken(secret, issuer, addr, ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

// stringList collects repeated flag values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func parseUint(field, raw string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", field, raw)
	}
	return v, nil
}
