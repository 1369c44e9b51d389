package hosts

import (
	"context"
	"fmt"
	"log"
)

type Mode int

const (
	ModeSet Mode = iota
	ModeRemove
)

func (m Mode) String() string {
	switch m {
	case ModeSet:
		return "set"
	case ModeRemove:
		return "remove"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type Request struct {
	Region    string
	HasRegion bool
	// Domains must be non-nil; an empty slice is a valid request.
	Domains []string
	Mode    Mode
	Backup  bool
}

type Outcome struct {
	Changed bool
	Written int
	Removed int
	Left    int
	Path    string
	Backup  string
	Message string
}

type ClearOutcome struct {
	Removed int
	Halted  bool
	Path    string
	Backup  string
	Message string
}

// Reconciler applies block requests to the hosts file. Each call reads
// the file fresh; there is no locking between concurrent callers.
type Reconciler struct {
	store *Store
}

func NewReconciler(store *Store) *Reconciler {
	return &Reconciler{store: store}
}

func (r *Reconciler) Store() *Store {
	return r.store
}

func (r *Reconciler) Apply(ctx context.Context, req Request) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if req.Domains == nil {
		return Outcome{}, fmt.Errorf("%w: domains must not be nil", ErrInvalidRequest)
	}
	if req.HasRegion && !ValidRegion(req.Region) {
		return Outcome{}, fmt.Errorf("%w: invalid region tag %q", ErrInvalidRequest, req.Region)
	}
	domains, err := normalizeDomains(req.Domains)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	path, original, err := r.store.Read()
	if err != nil {
		return Outcome{}, err
	}
	doc := ParseDocument(original)

	var out Outcome
	out.Path = path

	switch req.Mode {
	case ModeSet:
		block, found := doc.Find(req.Region, req.HasRegion)
		if !found && len(domains) == 0 {
			out.Message = "No cluster entries to update"
			return out, nil
		}
		if found {
			doc.ReplaceSpan(block.Start, block.End, "")
		}
		if len(domains) > 0 {
			doc.AppendBlock(Encode(req.Region, req.HasRegion, domains))
			out.Written = len(domains)
			out.Message = fmt.Sprintf("Successfully blocked %d domains (wrote to %s)", len(domains), path)
		} else {
			out.Message = fmt.Sprintf("Removed clusterbanned block (wrote to %s)", path)
		}

	case ModeRemove:
		block, found := doc.Find(req.Region, req.HasRegion)
		if !found {
			out.Message = "No cluster entries to update"
			return out, nil
		}
		drop := make(map[string]struct{}, len(domains))
		for _, d := range domains {
			drop[d] = struct{}{}
		}
		var remaining []string
		for _, d := range block.Domains {
			if _, ok := drop[d]; !ok {
				remaining = append(remaining, d)
			}
		}
		if len(remaining) == len(block.Domains) {
			out.Message = "No matching entries to remove"
			return out, nil
		}

		out.Removed = len(block.Domains) - len(remaining)
		out.Left = len(remaining)
		if len(remaining) == 0 {
			doc.ReplaceSpan(block.Start, block.End, "")
			out.Message = fmt.Sprintf("Removed clusterbanned block (wrote to %s)", path)
		} else {
			doc.ReplaceSpan(block.Start, block.End, Encode(block.Region, block.HasRegion, remaining))
			out.Message = fmt.Sprintf("Removed %d entries, left %d entries (wrote to %s)", out.Removed, out.Left, path)
		}

	default:
		return Outcome{}, fmt.Errorf("%w: unknown mode %v", ErrInvalidRequest, req.Mode)
	}

	rendered := doc.String()
	if rendered == original {
		return out, nil
	}
	backup, err := r.commit(path, original, rendered, req.Backup)
	if err != nil {
		return Outcome{}, err
	}
	out.Changed = true
	out.Backup = backup
	log.Printf("hosts: %s region=%q domains=%d: %s", req.Mode, req.Region, len(domains), out.Message)
	return out, nil
}

// Clear removes every managed block, regardless of region tag.
func (r *Reconciler) Clear(ctx context.Context, backup bool) (ClearOutcome, error) {
	if err := ctx.Err(); err != nil {
		return ClearOutcome{}, err
	}
	path, original, err := r.store.Read()
	if err != nil {
		return ClearOutcome{}, err
	}
	doc := ParseDocument(original)
	removed, halted := doc.ClearAll()

	out := ClearOutcome{Removed: removed, Halted: halted, Path: path}
	if removed == 0 {
		out.Message = "No clusterbanned blocks found in hosts"
		if halted {
			out.Message += " (an unterminated block was left in place)"
		}
		return out, nil
	}

	out.Backup, err = r.commit(path, original, doc.String(), backup)
	if err != nil {
		return ClearOutcome{}, err
	}
	out.Message = fmt.Sprintf("Successfully removed %d block(s) from hosts", removed)
	if halted {
		out.Message += "; stopped at an unterminated block"
	}
	return out, nil
}

// BlockedDomains returns every domain currently listed in managed blocks.
func (r *Reconciler) BlockedDomains(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, text, err := r.store.Read()
	if err != nil {
		return nil, err
	}
	return ParseDocument(text).BlockedDomains(), nil
}

func (r *Reconciler) commit(path, original, rendered string, backup bool) (string, error) {
	var backupPath string
	if backup {
		var err error
		if backupPath, err = r.store.Backup(path, original); err != nil {
			return "", err
		}
	}
	if err := r.store.Write(path, rendered); err != nil {
		return "", err
	}
	return backupPath, nil
}
