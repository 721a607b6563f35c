// Command zkgate-client talks to a running gateway: it uploads programs, runs
// execute/prove/verify against them and mints admin tokens from the shared secret.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/zkgate/internal/auth"
	"github.com/R3E-Network/zkgate/internal/cli"
	"github.com/R3E-Network/zkgate/internal/httputil"
)

const (
	executeTimeout = 300 * time.Second
	proveTimeout   = 3600 * time.Second
	defaultTimeout = 60 * time.Second
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: zkgate-client [global flags] <command> [flags]

Commands:
  info                 print the gateway host descriptor
  programs             list registered programs
  register             upload a program binary
  remove <program_id>  delete a program
  execute              run a program without proving
  prove                run a program and write its proof
  verify               check a proof against a program
  token                mint an admin token from ZKGATE_JWT_SECRET
  completion <shell>   print a bash or zsh completion script

Global flags:
`)
	flag.PrintDefaults()
}

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("ZKGATE_URL", "http://localhost:3000"), "Gateway base URL")
	token := flag.String("token", os.Getenv("ZKGATE_TOKEN"), "Bearer token for admin routes")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	client := httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: *addr,
		Token:   *token,
	})

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "info":
		err = getJSON(client, "/info")
	case "programs":
		err = getJSON(client, "/programs")
	case "register":
		err = register(client, args)
	case "remove":
		err = remove(client, args)
	case "execute":
		err = execute(client, args)
	case "prove":
		err = prove(client, args)
	case "verify":
		err = verify(client, args)
	case "token":
		err = mintToken(args)
	case "completion":
		if len(args) != 1 {
			err = errors.New("usage: completion bash|zsh")
			break
		}
		err = cli.WriteCompletion(os.Stdout, args[0])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		var apiErr *httputil.APIError
		if errors.As(err, &apiErr) && apiErr.TraceID != "" {
			log.Fatalf("%s: %v (trace %s)", cmd, err, apiErr.TraceID)
		}
		log.Fatalf("%s: %v", cmd, err)
	}
}

func getJSON(client *httputil.ServiceClient, path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	resp, err := client.Get(ctx, path)
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func register(client *httputil.ServiceClient, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	elfPath := fs.String("elf", "", "Path to the program binary (required)")
	vendor := fs.String("zkvm", "sp1", "zkVM vendor: sp1 or risc0")
	id := fs.String("id", "", "Program id; the gateway generates one when empty")
	name := fs.String("name", "", "Program name; defaults to the binary's file name")
	compiler := fs.String("compiler-version", "", "Toolchain version that built the binary")
	_ = fs.Parse(args)

	if *elfPath == "" {
		fs.Usage()
		return errors.New("--elf is required")
	}
	elf, err := os.ReadFile(*elfPath)
	if err != nil {
		return err
	}
	if *name == "" {
		*name = filepath.Base(*elfPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	resp, err := client.Post(ctx, "/register_program", map[string]string{
		"program_id":       *id,
		"program_name":     *name,
		"zkvm":             *vendor,
		"elf_file":         base64.StdEncoding.EncodeToString(elf),
		"compiler_version": *compiler,
	})
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func remove(client *httputil.ServiceClient, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: remove <program_id>")
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	resp, err := client.Delete(ctx, "/programs/"+args[0])
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		cli.Success(os.Stderr, "removed "+args[0])
		return nil
	}
	return httputil.DecodeResponse(resp, nil)
}

type operationArgs struct {
	id    string
	input json.RawMessage
	out   string
}

func parseOperation(name string, args []string) (*operationArgs, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	id := fs.String("id", "", "Program id (required)")
	input := fs.String("input", "", "JSON input document")
	inputFile := fs.String("input-file", "", "File holding the JSON input document")
	out := fs.String("out", "", "Write the raw proof to this file (prove only)")
	_ = fs.Parse(args)

	if *id == "" {
		fs.Usage()
		return nil, errors.New("--id is required")
	}
	raw := []byte(*input)
	if *inputFile != "" {
		data, err := os.ReadFile(*inputFile)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, errors.New("one of --input or --input-file is required")
	}
	if !json.Valid(raw) {
		return nil, errors.New("input is not valid JSON")
	}
	return &operationArgs{id: *id, input: raw, out: *out}, nil
}

func execute(client *httputil.ServiceClient, args []string) error {
	op, err := parseOperation("execute", args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
	defer cancel()

	resp, err := wait("executing "+op.id, func() (*http.Response, error) {
		return client.Post(ctx, "/execute/"+op.id, map[string]json.RawMessage{"input": op.input})
	})
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func prove(client *httputil.ServiceClient, args []string) error {
	op, err := parseOperation("prove", args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), proveTimeout)
	defer cancel()

	resp, err := wait("proving "+op.id, func() (*http.Response, error) {
		return client.Post(ctx, "/prove/"+op.id, map[string]json.RawMessage{"input": op.input})
	})
	if err != nil {
		return err
	}
	var out struct {
		ProgramID string          `json:"program_id"`
		Proof     string          `json:"proof"`
		Elapsed   json.RawMessage `json:"elapsed"`
	}
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return err
	}

	if op.out != "" {
		proof, err := base64.StdEncoding.DecodeString(out.Proof)
		if err != nil {
			return fmt.Errorf("gateway returned a malformed proof: %w", err)
		}
		if err := os.WriteFile(op.out, proof, 0o644); err != nil {
			return err
		}
		cli.Success(os.Stderr, fmt.Sprintf("wrote %d-byte proof for %s to %s (elapsed %s)", len(proof), out.ProgramID, op.out, out.Elapsed))
		return nil
	}
	return printJSON(out)
}

func verify(client *httputil.ServiceClient, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	id := fs.String("id", "", "Program id (required)")
	proofFile := fs.String("proof-file", "", "File holding the raw proof bytes")
	proofB64 := fs.String("proof", "", "Base64-encoded proof")
	_ = fs.Parse(args)

	if *id == "" {
		fs.Usage()
		return errors.New("--id is required")
	}
	encoded := *proofB64
	if *proofFile != "" {
		data, err := os.ReadFile(*proofFile)
		if err != nil {
			return err
		}
		encoded = base64.StdEncoding.EncodeToString(data)
	}
	if encoded == "" {
		return errors.New("one of --proof or --proof-file is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
	defer cancel()
	resp, err := wait("verifying against "+*id, func() (*http.Response, error) {
		return client.Post(ctx, "/verify/"+*id, map[string]string{"proof": encoded})
	})
	if err != nil {
		return err
	}
	var out struct {
		ProgramID     string `json:"program_id"`
		Verified      bool   `json:"verified"`
		FailureReason string `json:"failure_reason"`
	}
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return err
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if !out.Verified {
		os.Exit(1)
	}
	return nil
}

func mintToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "zkgate-client", "Token subject")
	role := fs.String("role", auth.RoleAdmin, "Token role")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	_ = fs.Parse(args)

	secret := os.Getenv("ZKGATE_JWT_SECRET")
	if secret == "" {
		return errors.New("ZKGATE_JWT_SECRET is not set")
	}
	token, err := auth.Mint([]byte(secret), *subject, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// wait runs call behind a spinner on stderr.
func wait(label string, call func() (*http.Response, error)) (*http.Response, error) {
	spinner := cli.NewSpinner(os.Stderr, label)
	spinner.Start()
	resp, err := call()
	if err != nil {
		spinner.Error(label + " failed")
		return nil, err
	}
	spinner.Stop()
	return resp, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
