// Package neo4j stores stacks as property graphs: each workflow node is a
// :WorkflowNode linked from its :Stack, and each edge a :FEEDS relationship.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/stackflow/internal/stack"
	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

// Repository implements stack.Repository on Neo4j.
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
}

// New connects to Neo4j and verifies the connection.
func New(ctx context.Context, uri, username, password, database string) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	r := &Repository{driver: driver, database: database}
	if err := r.ensureConstraints(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return r, nil
}

func (r *Repository) session(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
}

func (r *Repository) ensureConstraints(ctx context.Context) error {
	session := r.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, "CREATE CONSTRAINT stack_id IF NOT EXISTS FOR (s:Stack) REQUIRE s.id IS UNIQUE", nil)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j constraints: %w", err)
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, s *stack.Stack) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		props, err := stackProps(s)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx, "CREATE (s:Stack) SET s = $props", map[string]any{"props": props}); err != nil {
			return nil, err
		}
		return nil, writeWorkflow(ctx, tx, s.ID, s.Workflow)
	})
	if err != nil {
		return fmt.Errorf("create stack %s: %w", s.ID, err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, s *stack.Stack) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		props, err := stackProps(s)
		if err != nil {
			return nil, err
		}
		res, err := tx.Run(ctx, "MATCH (s:Stack {id: $id}) SET s = $props RETURN s.id", map[string]any{"id": s.ID, "props": props})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, fmt.Errorf("%w: %s", stack.ErrNotFound, s.ID)
		}
		if _, err := tx.Run(ctx,
			"MATCH (:Stack {id: $id})-[:HAS_NODE]->(n:WorkflowNode) DETACH DELETE n",
			map[string]any{"id": s.ID}); err != nil {
			return nil, err
		}
		return nil, writeWorkflow(ctx, tx, s.ID, s.Workflow)
	})
	if err != nil {
		return fmt.Errorf("update stack %s: %w", s.ID, err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, "MATCH (s:Stack {id: $id}) RETURN count(s) AS found", map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		if n, _ := rec.Get("found"); n == int64(0) {
			return nil, fmt.Errorf("%w: %s", stack.ErrNotFound, id)
		}
		_, err = tx.Run(ctx,
			"MATCH (s:Stack {id: $id}) OPTIONAL MATCH (s)-[:HAS_NODE]->(n:WorkflowNode) DETACH DELETE n, s",
			map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("delete stack %s: %w", id, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*stack.Stack, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, "MATCH (s:Stack {id: $id}) RETURN s", map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, fmt.Errorf("%w: %s", stack.ErrNotFound, id)
		}
		node, _ := res.Record().Get("s")
		s, err := stackFromProps(node.(neo4j.Node).Props)
		if err != nil {
			return nil, err
		}
		if err := readWorkflow(ctx, tx, s); err != nil {
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get stack %s: %w", id, err)
	}
	return result.(*stack.Stack), nil
}

func (r *Repository) List(ctx context.Context) ([]*stack.Stack, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, "MATCH (s:Stack) RETURN s ORDER BY s.created_at DESC, s.id DESC", nil)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		stacks := make([]*stack.Stack, 0, len(records))
		for _, rec := range records {
			node, _ := rec.Get("s")
			s, err := stackFromProps(node.(neo4j.Node).Props)
			if err != nil {
				return nil, err
			}
			if err := readWorkflow(ctx, tx, s); err != nil {
				return nil, err
			}
			stacks = append(stacks, s)
		}
		return stacks, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list stacks: %w", err)
	}
	return result.([]*stack.Stack), nil
}

func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func writeWorkflow(ctx context.Context, tx neo4j.ManagedTransaction, stackID string, w workflow.WireDocument) error {
	for _, n := range w.Nodes {
		data, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("encode node %s: %w", n.ID, err)
		}
		_, err = tx.Run(ctx,
			"MATCH (s:Stack {id: $stack}) "+
				"CREATE (s)-[:HAS_NODE]->(:WorkflowNode {stack_id: $stack, id: $id, type: $type, x: $x, y: $y, data: $data})",
			map[string]any{
				"stack": stackID, "id": n.ID, "type": string(n.Type),
				"x": n.Position.X, "y": n.Position.Y, "data": string(data),
			})
		if err != nil {
			return fmt.Errorf("store node %s: %w", n.ID, err)
		}
	}
	for _, e := range w.Edges {
		label, err := json.Marshal(e.Label)
		if err != nil {
			return fmt.Errorf("encode edge %s: %w", e.ID, err)
		}
		_, err = tx.Run(ctx,
			"MATCH (a:WorkflowNode {stack_id: $stack, id: $source}), (b:WorkflowNode {stack_id: $stack, id: $target}) "+
				"CREATE (a)-[:FEEDS {id: $id, source_port: $sp, target_port: $tp, label: $label}]->(b)",
			map[string]any{
				"stack": stackID, "id": e.ID, "source": e.Source, "target": e.Target,
				"sp": portOf(e.SourcePort, e.SourceHandle), "tp": portOf(e.TargetPort, e.TargetHandle),
				"label": string(label),
			})
		if err != nil {
			return fmt.Errorf("store edge %s: %w", e.ID, err)
		}
	}
	return nil
}

func readWorkflow(ctx context.Context, tx neo4j.ManagedTransaction, s *stack.Stack) error {
	res, err := tx.Run(ctx,
		"MATCH (:Stack {id: $id})-[:HAS_NODE]->(n:WorkflowNode) RETURN n ORDER BY n.id",
		map[string]any{"id": s.ID})
	if err != nil {
		return err
	}
	for res.Next(ctx) {
		v, _ := res.Record().Get("n")
		p := v.(neo4j.Node).Props
		var data map[string]any
		if err := json.Unmarshal([]byte(str(p["data"])), &data); err != nil {
			return fmt.Errorf("decode node %s: %w", str(p["id"]), err)
		}
		s.Workflow.Nodes = append(s.Workflow.Nodes, workflow.WireNode{
			ID:       str(p["id"]),
			Type:     workflow.NodeType(str(p["type"])),
			Position: workflow.Position{X: num(p["x"]), Y: num(p["y"])},
			Data:     data,
		})
	}
	if err := res.Err(); err != nil {
		return err
	}

	res, err = tx.Run(ctx,
		"MATCH (:Stack {id: $id})-[:HAS_NODE]->(a:WorkflowNode)-[f:FEEDS]->(b:WorkflowNode) "+
			"RETURN f, a.id AS source, b.id AS target ORDER BY f.id",
		map[string]any{"id": s.ID})
	if err != nil {
		return err
	}
	for res.Next(ctx) {
		rec := res.Record()
		v, _ := rec.Get("f")
		src, _ := rec.Get("source")
		dst, _ := rec.Get("target")
		p := v.(neo4j.Relationship).Props
		var label any
		if raw := str(p["label"]); raw != "" {
			if err := json.Unmarshal([]byte(raw), &label); err != nil {
				return fmt.Errorf("decode edge %s: %w", str(p["id"]), err)
			}
		}
		sp, tp := str(p["source_port"]), str(p["target_port"])
		s.Workflow.Edges = append(s.Workflow.Edges, workflow.WireEdge{
			ID: str(p["id"]), Source: str(src), Target: str(dst),
			SourcePort: sp, TargetPort: tp, SourceHandle: sp, TargetHandle: tp,
			Label: label,
		})
	}
	return res.Err()
}

func stackProps(s *stack.Stack) (map[string]any, error) {
	vp, err := json.Marshal(s.Workflow.Viewport)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":          s.ID,
		"name":        s.Name,
		"description": s.Description,
		"viewport":    string(vp),
		"created_at":  s.CreatedAt,
		"updated_at":  s.UpdatedAt,
	}, nil
}

func stackFromProps(p map[string]any) (*stack.Stack, error) {
	s := &stack.Stack{
		ID:          str(p["id"]),
		Name:        str(p["name"]),
		Description: str(p["description"]),
		CreatedAt:   tm(p["created_at"]),
		UpdatedAt:   tm(p["updated_at"]),
		Workflow:    workflow.EmptyWire(),
	}
	if raw := str(p["viewport"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.Workflow.Viewport); err != nil {
			return nil, fmt.Errorf("decode viewport of %s: %w", s.ID, err)
		}
	}
	return s, nil
}

func portOf(port, handle string) string {
	if port != "" {
		return port
	}
	return handle
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func tm(v any) time.Time {
	t, _ := v.(time.Time)
	return t.UTC()
}

var _ stack.Repository = (*Repository)(nil)
