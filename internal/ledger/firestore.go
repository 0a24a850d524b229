package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	partitionsCollection = "ledger_partitions"
	rowsCollection       = "rows"
)

// FirestoreLedger implements Ledger using Firestore. Each partition is a
// document in ledger_partitions; its rows live in a rows subcollection
// ordered by a per-partition sequence number.
type FirestoreLedger struct {
	client *firestore.Client
}

type partitionDoc struct {
	Key       string    `firestore:"key"`
	ID        int64     `firestore:"id"`
	Header    []string  `firestore:"header"`
	NextSeq   int64     `firestore:"next_seq"`
	CreatedAt time.Time `firestore:"created_at"`
}

type rowDoc struct {
	Seq       int64     `firestore:"seq"`
	Cells     []string  `firestore:"cells"`
	Merged    []string  `firestore:"merged,omitempty"`
	CreatedAt time.Time `firestore:"created_at"`
}

// NewFirestoreLedger creates a new Firestore-backed ledger.
func NewFirestoreLedger(client *firestore.Client) *FirestoreLedger {
	return &FirestoreLedger{client: client}
}

func (s *FirestoreLedger) partitionRef(key string) *firestore.DocumentRef {
	return s.client.Collection(partitionsCollection).Doc(key)
}

func (s *FirestoreLedger) GetOrCreatePartition(ctx context.Context, key string) (Partition, error) {
	ref := s.partitionRef(key)

	snap, err := ref.Get(ctx)
	if err == nil {
		var doc partitionDoc
		if err := snap.DataTo(&doc); err != nil {
			return Partition{}, fmt.Errorf("failed to parse partition %s: %w", key, err)
		}
		return Partition{Key: key, ID: doc.ID}, nil
	}
	if status.Code(err) != codes.NotFound {
		return Partition{}, classifyGRPCError("get partition "+key, err)
	}

	now := time.Now().UTC()
	doc := partitionDoc{Key: key, ID: now.UnixNano(), Header: Header, CreatedAt: now}
	if _, err := ref.Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return s.GetOrCreatePartition(ctx, key)
		}
		return Partition{}, classifyGRPCError("create partition "+key, err)
	}

	slog.Info("created ledger partition", "partition", key)
	return Partition{Key: key, ID: doc.ID}, nil
}

func (s *FirestoreLedger) ListPartitions(ctx context.Context) ([]Partition, error) {
	iter := s.client.Collection(partitionsCollection).OrderBy("key", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []Partition
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classifyGRPCError("list partitions", err)
		}
		var doc partitionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse partition %s: %w", snap.Ref.ID, err)
		}
		if !IsPartitionKey(doc.Key) {
			continue
		}
		out = append(out, Partition{Key: doc.Key, ID: doc.ID})
	}
	return out, nil
}

func (s *FirestoreLedger) rowSnapshots(ctx context.Context, p Partition) ([]*firestore.DocumentSnapshot, error) {
	snaps, err := s.partitionRef(p.Key).Collection(rowsCollection).
		OrderBy("seq", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, classifyGRPCError("list rows of "+p.Key, err)
	}
	return snaps, nil
}

func (s *FirestoreLedger) ReadAllRows(ctx context.Context, p Partition) ([][]string, error) {
	snaps, err := s.rowSnapshots(ctx, p)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(snaps))
	for _, snap := range snaps {
		var doc rowDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse row %s: %w", snap.Ref.ID, err)
		}
		rows = append(rows, doc.Cells)
	}
	return rows, nil
}

func (s *FirestoreLedger) AppendRow(ctx context.Context, p Partition, cells []string) error {
	pref := s.partitionRef(p.Key)
	rowRef := pref.Collection(rowsCollection).Doc(uuid.New().String())

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(pref)
		if err != nil {
			return err
		}
		var doc partitionDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("failed to parse partition %s: %w", p.Key, err)
		}

		if err := tx.Update(pref, []firestore.Update{{Path: "next_seq", Value: doc.NextSeq + 1}}); err != nil {
			return err
		}
		return tx.Create(rowRef, rowDoc{
			Seq:       doc.NextSeq,
			Cells:     append([]string(nil), cells...),
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return classifyGRPCError("append row to "+p.Key, err)
	}
	return nil
}

func (s *FirestoreLedger) DeleteRow(ctx context.Context, p Partition, index int) error {
	snap, err := s.rowAt(ctx, p, index)
	if err != nil {
		return err
	}
	if _, err := snap.Ref.Delete(ctx); err != nil {
		return classifyGRPCError("delete row of "+p.Key, err)
	}
	return nil
}

// MergeCells records the merged column range on the row document so that
// exports can reproduce the layout.
func (s *FirestoreLedger) MergeCells(ctx context.Context, p Partition, rowIndex, startCol, endCol int) error {
	snap, err := s.rowAt(ctx, p, rowIndex)
	if err != nil {
		return err
	}
	span := fmt.Sprintf("%d:%d", startCol, endCol)
	if _, err := snap.Ref.Update(ctx, []firestore.Update{{Path: "merged", Value: firestore.ArrayUnion(span)}}); err != nil {
		return classifyGRPCError("merge cells of "+p.Key, err)
	}
	return nil
}

func (s *FirestoreLedger) rowAt(ctx context.Context, p Partition, index int) (*firestore.DocumentSnapshot, error) {
	snaps, err := s.rowSnapshots(ctx, p)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(snaps) {
		return nil, fmt.Errorf("row %d of %s: %w", index, p.Key, ErrRowOutOfRange)
	}
	return snaps[index], nil
}

// classifyGRPCError maps ResourceExhausted to ErrRateLimited and everything
// else to ErrUnavailable.
func classifyGRPCError(op string, err error) error {
	if status.Code(err) == codes.ResourceExhausted {
		return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
