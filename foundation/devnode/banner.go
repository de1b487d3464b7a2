package devnode

import (
	"bufio"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Banner represents what anvil reports on stdout while starting up.
type Banner struct {
	Addresses []common.Address
	Keys      []*ecdsa.PrivateKey
	ChainID   uint64
	Listening string
}

// The sections of the banner we care about.
const (
	sectionNone = iota
	sectionAccounts
	sectionKeys
)

var (
	indexedLine   = regexp.MustCompile(`^\((\d+)\)\s+(0x[0-9a-fA-F]+)`)
	listeningLine = regexp.MustCompile(`^Listening on\s+(\S+)`)
)

// ParseBanner reads the anvil startup output until the "Listening on" line
// and captures the dev accounts and their private keys.
func ParseBanner(r io.Reader) (Banner, error) {
	var b Banner
	if err := scanBanner(bufio.NewScanner(r), &b); err != nil {
		return Banner{}, err
	}
	return b, nil
}

// scanBanner consumes lines from the scanner until the banner is complete.
// The scanner is left positioned after the "Listening on" line so the caller
// can keep draining the process output.
func scanBanner(scanner *bufio.Scanner, b *Banner) error {
	section := sectionNone
	wantChainID := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, "Available Accounts"):
			section = sectionAccounts
			continue

		case strings.HasPrefix(line, "Private Keys"):
			section = sectionKeys
			continue

		case line == "Chain ID":
			section = sectionNone
			wantChainID = true
			continue

		case strings.HasPrefix(line, "=="):
			continue
		}

		if m := listeningLine.FindStringSubmatch(line); m != nil {
			b.Listening = m[1]
			return b.check()
		}

		if wantChainID {
			if _, err := fmt.Sscanf(line, "%d", &b.ChainID); err == nil {
				wantChainID = false
			}
			continue
		}

		m := indexedLine.FindStringSubmatch(line)
		if m == nil {
			if section != sectionNone && !strings.HasPrefix(line, "(") {
				section = sectionNone
			}
			continue
		}

		switch section {
		case sectionAccounts:
			if !common.IsHexAddress(m[2]) {
				return fmt.Errorf("parsing account %q: invalid address", m[2])
			}
			b.Addresses = append(b.Addresses, common.HexToAddress(m[2]))

		case sectionKeys:
			key, err := crypto.HexToECDSA(strings.TrimPrefix(m[2], "0x"))
			if err != nil {
				return fmt.Errorf("parsing private key %s: %w", m[1], err)
			}
			b.Keys = append(b.Keys, key)
		}
	}

	// A closed reader means the process is gone.
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("reading node output: %w", err)
	}

	return ErrExited
}

// check validates the keys match the advertised accounts.
func (b *Banner) check() error {
	if len(b.Keys) == 0 {
		return errors.New("node reported no private keys")
	}

	if len(b.Addresses) > 0 && len(b.Addresses) != len(b.Keys) {
		return fmt.Errorf("node reported %d accounts but %d keys", len(b.Addresses), len(b.Keys))
	}

	for i, key := range b.Keys {
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if len(b.Addresses) > 0 && b.Addresses[i] != addr {
			return fmt.Errorf("key %d belongs to %s, not %s", i, addr, b.Addresses[i])
		}
	}

	if len(b.Addresses) == 0 {
		for _, key := range b.Keys {
			b.Addresses = append(b.Addresses, crypto.PubkeyToAddress(key.PublicKey))
		}
	}

	return nil
}
