// Package prefixtable resolves a client's source IP to its access
// router by longest-prefix match over the entries of a Forest prefix
// file.
package prefixtable

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/gaissmai/bart"
	"github.com/jonturner53/forestctl/internal/forest"
)

// Table wraps a bart.Table keyed by netip.Prefix, which already
// performs longest-prefix-match lookup natively, so no bespoke
// longest-first scan is reimplemented.
type Table struct {
	t bart.Table[forest.Addr]
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

// Insert adds one prefix -> router-address mapping.
func (t *Table) Insert(pfx netip.Prefix, addr forest.Addr) {
	t.t.Insert(pfx, addr)
}

// Lookup returns the router address with the longest prefix covering ip.
func (t *Table) Lookup(ip netip.Addr) (forest.Addr, bool) {
	return t.t.Lookup(ip)
}

// ReadFile loads a prefix file from disk.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses prefix-file lines of the form "<ip-prefix-with-*> <addr>"
// from r, where addr is a "zip.local" Forest address.
func Read(r *os.File) (*Table, error) {
	t := New()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("prefixfile: line %d: expected 2 fields, got %d", lineNo, len(fields))
		}
		pfx, err := parseWildcardPrefix(fields[0])
		if err != nil {
			return nil, fmt.Errorf("prefixfile: line %d: %w", lineNo, err)
		}
		addr, err := parseAddr(fields[1])
		if err != nil {
			return nil, fmt.Errorf("prefixfile: line %d: %w", lineNo, err)
		}
		t.Insert(pfx, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// parseWildcardPrefix turns Forest's "192.168.1.*" style wildcard
// notation into a netip.Prefix: each '*' octet shortens the mask by 8
// bits, matching "'*' matches any remaining octets".
func parseWildcardPrefix(s string) (netip.Prefix, error) {
	octets := strings.Split(s, ".")
	if len(octets) != 4 {
		return netip.Prefix{}, fmt.Errorf("invalid prefix %q: expected 4 octets", s)
	}
	bits := 32
	full := make([]string, 4)
	for i, o := range octets {
		if o == "*" {
			bits = i * 8
			for j := i; j < 4; j++ {
				full[j] = "0"
			}
			break
		}
		full[i] = o
	}
	ipStr := strings.Join(full, ".")
	ip := net.ParseIP(ipStr)
	if ip == nil || ip.To4() == nil {
		return netip.Prefix{}, fmt.Errorf("invalid prefix %q", s)
	}
	addr, ok := netip.AddrFromSlice(ip.To4())
	if !ok {
		return netip.Prefix{}, fmt.Errorf("invalid prefix %q", s)
	}
	return netip.PrefixFrom(addr, bits), nil
}

func parseAddr(s string) (forest.Addr, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return forest.NoAddr, fmt.Errorf("invalid forest address %q", s)
	}
	zip, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return forest.NoAddr, fmt.Errorf("invalid zip in %q: %w", s, err)
	}
	local, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return forest.NoAddr, fmt.Errorf("invalid local part in %q: %w", s, err)
	}
	return forest.MakeAddr(uint16(zip), uint16(local)), nil
}
