package repository

import (
	"context"
	"fmt"

	"github.com/ammar0144/arcore/pkg/db"
)

// SyncResult lists the related keys Sync attached and detached
type SyncResult struct {
	Attached []any
	Detached []any
}

func (r *Relation) pivotOwner() (any, error) {
	if !r.def.Kind.UsesPivot() {
		return nil, fmt.Errorf("relation '%s' (%s): %w", r.def.Name, r.def.Kind, ErrNotPivotRelation)
	}
	key, _ := r.parent.attrs.Raw(r.def.LocalKey)
	if key == nil {
		return nil, fmt.Errorf("relation '%s': parent %s has no %s", r.def.Name, r.def.Parent.table, r.def.LocalKey)
	}
	return key, nil
}

// pivotScope selects the pivot rows owned by the parent
func (r *Relation) pivotScope(owner any) *db.Builder {
	return pivotBuilder(r.def).Where(r.def.PivotTable+"."+r.def.PivotForeignKey, db.Equal, owner)
}

// Attach inserts a pivot row linking the parent to each related key
func (r *Relation) Attach(ctx context.Context, ids ...any) error {
	owner, err := r.pivotOwner()
	if err != nil {
		return err
	}
	def := r.def
	cols := []string{def.PivotForeignKey, def.PivotRelatedKey}
	if def.MorphType != "" {
		cols = append(cols, def.MorphType)
	}
	query, _ := r.parent.repo.insertBuilder(def.PivotTable).BuildInsert(cols)

	for _, id := range ids {
		args := []any{owner, id}
		if def.MorphType != "" {
			args = append(args, def.MorphClass)
		}
		if _, err := r.parent.repo.conn.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("attach %v to %s: %w", id, def.Name, err)
		}
	}
	r.parent.Unload(def.Name)
	return nil
}

// Detach deletes the pivot rows linking the parent to ids; no ids detaches all
func (r *Relation) Detach(ctx context.Context, ids ...any) (int64, error) {
	owner, err := r.pivotOwner()
	if err != nil {
		return 0, err
	}
	b := r.pivotScope(owner)
	if len(ids) > 0 {
		b = b.WhereIn(r.def.PivotTable+"."+r.def.PivotRelatedKey, ids)
	}
	query, args := b.BuildDeleteWhere()
	res, err := r.parent.repo.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("detach from %s: %w", r.def.Name, err)
	}
	r.parent.Unload(r.def.Name)
	return res.RowsAffected, nil
}

// Sync makes ids the exact set of related keys, attaching and detaching the difference
func (r *Relation) Sync(ctx context.Context, ids ...any) (SyncResult, error) {
	var result SyncResult
	owner, err := r.pivotOwner()
	if err != nil {
		return result, err
	}
	def := r.def

	b := r.pivotScope(owner).Select(def.PivotTable + "." + def.PivotRelatedKey + " AS " + groupKeyColumn)
	rows, err := r.parent.repo.selectRows(ctx, b)
	if err != nil {
		return result, err
	}
	current := make(map[any]any, len(rows))
	for _, row := range rows {
		current[normalizeKey(row[groupKeyColumn])] = row[groupKeyColumn]
	}

	wanted := make(map[any]struct{}, len(ids))
	for _, id := range ids {
		k := normalizeKey(id)
		if _, dup := wanted[k]; dup {
			continue
		}
		wanted[k] = struct{}{}
		if _, ok := current[k]; !ok {
			result.Attached = append(result.Attached, id)
		}
	}
	for _, row := range rows {
		k := normalizeKey(row[groupKeyColumn])
		if _, keep := wanted[k]; keep {
			continue
		}
		wanted[k] = struct{}{}
		result.Detached = append(result.Detached, current[k])
	}

	if len(result.Detached) > 0 {
		if _, err := r.Detach(ctx, result.Detached...); err != nil {
			return result, err
		}
	}
	if len(result.Attached) > 0 {
		if err := r.Attach(ctx, result.Attached...); err != nil {
			return result, err
		}
	}
	r.parent.Unload(def.Name)
	return result, nil
}
