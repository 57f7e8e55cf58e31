package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"translation_assurance/internal/attest"
	"translation_assurance/internal/config"
	"translation_assurance/internal/ledger"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 1
	}
	switch args[0] {
	case "attest":
		return attestCmd(args[1:], stdout, stderr)
	case "verify":
		return verifyCmd(args[1:], stdout, stderr)
	case "ledger-verify":
		return ledgerVerifyCmd(args[1:], stdout, stderr)
	default:
		usage(stderr)
		return 1
	}
}

type pairFlags struct {
	src, tgt, srcLang, tgtLang string
}

func (p *pairFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.src, "src", "", "source text")
	fs.StringVar(&p.tgt, "tgt", "", "translated text")
	fs.StringVar(&p.srcLang, "src-lang", "", "source language code")
	fs.StringVar(&p.tgtLang, "tgt-lang", "", "target language code")
}

func (p *pairFlags) translation() attest.Translation {
	return attest.Translation{SourceText: p.src, TargetText: p.tgt, SourceLang: p.srcLang, TargetLang: p.tgtLang}
}

func engineFromEnv() (*attest.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return attest.New(attest.Config{
		Secret:  cfg.SharedSecret,
		Model:   cfg.Model,
		Version: cfg.Version,
		MaxAge:  cfg.MaxAge,
	})
}

func attestCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("attest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var pair pairFlags
	pair.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	engine, err := engineFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	cert, err := engine.Attest(pair.translation())
	if err != nil {
		fmt.Fprintf(stderr, "attest: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cert); err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}

func verifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var pair pairFlags
	pair.register(fs)
	certPath := fs.String("cert", "", "certificate JSON file (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *certPath == "" {
		fmt.Fprintln(stderr, "verify: -cert is required")
		return 1
	}

	raw, err := readCertificate(*certPath)
	if err != nil {
		fmt.Fprintf(stderr, "read certificate: %v\n", err)
		return 1
	}
	engine, err := engineFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	res := engine.VerifyMap(pair.translation(), raw)
	if res.Success {
		fmt.Fprintf(stdout, "OK: %s\n", res.Reason)
		return 0
	}
	fmt.Fprintf(stdout, "FAIL: %s\n", res.Reason)
	if res.Detail != "" {
		fmt.Fprintf(stderr, "detail: %s\n", res.Detail)
	}
	return 2
}

func readCertificate(path string) (map[string]any, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func ledgerVerifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledger-verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data", "./data", "ledger directory")
	batch := fs.Int("batch", 100, "batch size")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	report := ledger.Verify(*dataDir, *batch)
	if report.OK {
		fmt.Fprintf(stdout, "OK: %d certificates, last index=%d, roots checked=%d\n", report.Total, report.LastIndex, report.RootsChecked)
		return 0
	}
	fmt.Fprintf(stdout, "FAIL: %v\n", report.Errors)
	return 2
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  attestctl attest -src TEXT -tgt TEXT -src-lang CODE -tgt-lang CODE")
	fmt.Fprintln(w, "  attestctl verify -src TEXT -tgt TEXT -src-lang CODE -tgt-lang CODE -cert FILE")
	fmt.Fprintln(w, "  attestctl ledger-verify -data ./data -batch 100")
}
