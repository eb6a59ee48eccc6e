// Command hotpatchctl is a thin client for hotpatchd's admin HTTP surface:
// it posts a source file to /apply/{assembly} and prints the resulting
// ApplyResult, or queries /status and /history/{assembly}.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

func main() {
	var (
		addr       = pflag.String("addr", "http://127.0.0.1:8088", "hotpatchd admin HTTP address")
		assembly   = pflag.String("assembly", "", "assembly name to patch or inspect")
		sourceFile = pflag.String("source", "", "path to the source file to apply (required for apply)")
		sourcePath = pflag.String("path", "", "logical source path recorded with the patch (defaults to -source)")
		moduleName = pflag.String("module", "", "module name to pass to the compiler (defaults to -assembly)")
		revision   = pflag.Int64("revision", 0, "caller-supplied revision number (0 lets hotpatchd pick one)")
		showStatus = pflag.Bool("status", false, "print engine status instead of applying")
		showHist   = pflag.Bool("history", false, "print patch history for -assembly instead of applying")
	)
	pflag.Parse()

	client := &http.Client{}

	switch {
	case *showStatus:
		if err := runStatus(client, *addr); err != nil {
			fail(err)
		}
	case *showHist:
		if *assembly == "" {
			fail(fmt.Errorf("hotpatchctl: -assembly is required with -history"))
		}
		if err := runHistory(client, *addr, *assembly); err != nil {
			fail(err)
		}
	default:
		if *assembly == "" || *sourceFile == "" {
			fail(fmt.Errorf("hotpatchctl: -assembly and -source are required"))
		}
		if err := runApply(client, *addr, *assembly, *sourceFile, *sourcePath, *moduleName, *revision); err != nil {
			fail(err)
		}
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func runApply(client *http.Client, addr, assembly, sourceFile, sourcePath, moduleName string, revision int64) error {
	data, err := os.ReadFile(sourceFile)
	if err != nil {
		return fmt.Errorf("hotpatchctl: reading source file: %w", err)
	}
	if sourcePath == "" {
		sourcePath = sourceFile
	}
	if moduleName == "" {
		moduleName = assembly
	}

	q := url.Values{}
	q.Set("path", sourcePath)
	q.Set("module", moduleName)
	if revision != 0 {
		q.Set("revision", strconv.FormatInt(revision, 10))
	}

	reqURL := fmt.Sprintf("%s/apply/%s?%s", addr, url.PathEscape(assembly), q.Encode())
	resp, err := client.Post(reqURL, "text/plain", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("hotpatchctl: posting apply request: %w", err)
	}
	defer resp.Body.Close()

	return printJSONResponse(resp)
}

func runStatus(client *http.Client, addr string) error {
	resp, err := client.Get(addr + "/status")
	if err != nil {
		return fmt.Errorf("hotpatchctl: requesting status: %w", err)
	}
	defer resp.Body.Close()
	return printJSONResponse(resp)
}

func runHistory(client *http.Client, addr, assembly string) error {
	resp, err := client.Get(fmt.Sprintf("%s/history/%s", addr, url.PathEscape(assembly)))
	if err != nil {
		return fmt.Errorf("hotpatchctl: requesting history: %w", err)
	}
	defer resp.Body.Close()
	return printJSONResponse(resp)
}

func printJSONResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("hotpatchctl: reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("hotpatchctl: %s: %s", resp.Status, string(body))
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return nil
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(string(pretty))
	return nil
}
