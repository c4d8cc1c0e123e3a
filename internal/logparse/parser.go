// Package logparse turns program log lines into domain events.
package logparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"

	"openclaw-indexer/internal/domain"
)

// ErrParseMismatch is returned when a line carries a known marker but its payload is malformed.
var ErrParseMismatch = errors.New("log line matched marker but payload is malformed")

// Markers recognized in program logs.
const (
	markerCreated   = "Token created:"
	markerBuy       = "Buy:"
	markerSell      = "Sell:"
	markerMigrated  = "migrated"
	markerFee       = "Updated fee to"
	markerThreshold = "Updated migration threshold to"
)

var (
	createdRe   = regexp.MustCompile(`Token created: (.+) \(([^()]*)\) at (\S+)\s*$`)
	buyRe       = regexp.MustCompile(`Buy: (\d+) lamports -> (\d+) tokens \(fee: (\d+) lamports\)`)
	sellRe      = regexp.MustCompile(`Sell: (\d+) tokens -> (\d+) lamports \(fee: (\d+) lamports\)`)
	migratedRe  = regexp.MustCompile(`Token (\S+) migrated`)
	feeRe       = regexp.MustCompile(`Updated fee to (\d+) bps`)
	thresholdRe = regexp.MustCompile(`Updated migration threshold to (\d+) lamports`)
)

// Transaction is one log delivery for a signature.
type Transaction struct {
	Signature string
	Slot      int64
	Failed    bool
	Logs      []string
}

// Parser extracts events from program logs.
// When ProgramID is set, lines emitted outside that program's invocation frame are ignored.
type Parser struct {
	ProgramID string
}

// New creates a Parser scoped to programID. An empty programID accepts every line.
func New(programID string) *Parser {
	return &Parser{ProgramID: programID}
}

// ParseLine parses a single line. An unrecognized line returns (nil, nil).
func ParseLine(line, signature string, index int) (domain.Event, error) {
	meta := domain.EventMeta{Sig: signature, Index: index}

	switch {
	case strings.Contains(line, markerCreated):
		return parseCreated(line, meta)
	case strings.Contains(line, markerBuy):
		return parseTrade(line, meta, buyRe, domain.TradeBuy)
	case strings.Contains(line, markerSell):
		return parseTrade(line, meta, sellRe, domain.TradeSell)
	case strings.Contains(line, markerFee):
		return parseFee(line, meta)
	case strings.Contains(line, markerThreshold):
		return parseThreshold(line, meta)
	case strings.Contains(line, "Token ") && strings.Contains(line, markerMigrated):
		return parseMigrated(line, meta)
	}
	return nil, nil
}

// ParseTransaction parses every relevant line of tx.
// A failed transaction yields nothing. Malformed lines are reported and skipped.
func (p *Parser) ParseTransaction(tx Transaction) ([]domain.Event, []error) {
	if tx.Failed {
		return nil, nil
	}

	var (
		events []domain.Event
		errs   []error
	)
	for _, line := range p.programLines(tx.Logs) {
		ev, err := ParseLine(line.text, tx.Signature, line.index)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s line %d: %w", tx.Signature, line.index, err))
			continue
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events, errs
}

type indexedLine struct {
	index int
	text  string
}

// programLines returns the lines emitted while the configured program is executing.
// Logs carrying no invoke markers at all are accepted as is.
func (p *Parser) programLines(logs []string) []indexedLine {
	out := make([]indexedLine, 0, len(logs))
	if p == nil || p.ProgramID == "" || !hasFrames(logs) {
		for i, l := range logs {
			out = append(out, indexedLine{i, l})
		}
		return out
	}

	// program IDs currently executing, innermost last
	var stack []string
	for i, l := range logs {
		if id, ok := frameStart(l); ok {
			stack = append(stack, id)
			continue
		}
		if frameEnd(l) {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if len(stack) > 0 && stack[len(stack)-1] == p.ProgramID {
			out = append(out, indexedLine{i, l})
		}
	}
	return out
}

// frameField splits "Program <id> <rest>" lines emitted by the runtime.
func frameField(l string) (id, rest string, ok bool) {
	parts := strings.SplitN(l, " ", 3)
	if len(parts) != 3 || parts[0] != "Program" || strings.HasSuffix(parts[1], ":") {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func frameStart(l string) (string, bool) {
	id, rest, ok := frameField(l)
	if !ok || !strings.HasPrefix(rest, "invoke [") {
		return "", false
	}
	return id, true
}

func frameEnd(l string) bool {
	_, rest, ok := frameField(l)
	return ok && (rest == "success" || strings.HasPrefix(rest, "failed"))
}

func hasFrames(logs []string) bool {
	for _, l := range logs {
		if _, ok := frameStart(l); ok {
			return true
		}
	}
	return false
}

func parseCreated(line string, meta domain.EventMeta) (domain.Event, error) {
	m := createdRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("token created: %w", ErrParseMismatch)
	}
	if err := validateMint(m[3]); err != nil {
		return nil, err
	}
	return domain.TokenCreated{EventMeta: meta, Name: m[1], Symbol: m[2], Mint: m[3]}, nil
}

func parseTrade(line string, meta domain.EventMeta, re *regexp.Regexp, dir domain.TradeType) (domain.Event, error) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("%s: %w", strings.ToLower(dir.String()), ErrParseMismatch)
	}
	nums, err := parseUints(m[1:])
	if err != nil {
		return nil, err
	}

	ev := domain.TradeExecuted{EventMeta: meta, Direction: dir, FeeAmount: nums[2]}
	if dir == domain.TradeBuy {
		ev.SolAmount, ev.TokenAmount = nums[0], nums[1]
	} else {
		ev.TokenAmount, ev.SolAmount = nums[0], nums[1]
	}
	if ev.SolAmount == 0 || ev.TokenAmount == 0 {
		return nil, fmt.Errorf("zero trade amount: %w", ErrParseMismatch)
	}
	return ev, nil
}

func parseMigrated(line string, meta domain.EventMeta) (domain.Event, error) {
	m := migratedRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("migrated: %w", ErrParseMismatch)
	}
	if err := validateMint(m[1]); err != nil {
		return nil, err
	}
	return domain.Migrated{EventMeta: meta, MintHint: m[1]}, nil
}

func parseFee(line string, meta domain.EventMeta) (domain.Event, error) {
	m := feeRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("fee update: %w", ErrParseMismatch)
	}
	v, err := strconv.ParseUint(m[1], 10, 16)
	if err != nil || uint16(v) > domain.MaxFeeBps {
		return nil, fmt.Errorf("fee update %q: %w", m[1], ErrParseMismatch)
	}
	fee := uint16(v)
	return domain.ConfigUpdated{EventMeta: meta, FeeBps: &fee}, nil
}

func parseThreshold(line string, meta domain.EventMeta) (domain.Event, error) {
	m := thresholdRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("threshold update: %w", ErrParseMismatch)
	}
	v, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil || v == 0 {
		return nil, fmt.Errorf("threshold update %q: %w", m[1], ErrParseMismatch)
	}
	return domain.ConfigUpdated{EventMeta: meta, MigrationThreshold: &v}, nil
}

func parseUints(fields []string) ([]uint64, error) {
	out := make([]uint64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", f, ErrParseMismatch)
		}
		out[i] = v
	}
	return out, nil
}

// validateMint checks that s is a base58 encoded 32 byte public key.
func validateMint(s string) error {
	b, err := base58.Decode(s)
	if err != nil || len(b) != 32 {
		return fmt.Errorf("mint %q: %w", s, ErrParseMismatch)
	}
	return nil
}
