// Package board provides the shared Go definitions and Redis schema patterns
// for the FlowBoard layout engine.
//
// # Overview
//
// The board is the state shared between every FlowBoard process: resolved
// layouts cached in Redis (the Tier-2 cache) and the change-event bus over
// which the persistence layer reports committed mutations. Everything else
// (the rule evaluator, the layout resolver, the fan-out registry) is
// process-local and builds on the types defined here.
//
// # Core Concepts
//
// A ResolvedSection is one visible unit of a rendered layout together with the
// parameters the client needs to draw it. A layout is an ordered slice of
// sections.
//
// A ChangeEvent is a normalized notification that a row of a watched table was
// inserted, updated or deleted. Events are delivered at-least-once and may be
// reordered across different entities.
//
// An Action is an instruction for a connected client to update local state
// without a full re-fetch (move a card, show a notification, invalidate a
// list). Actions are a tagged variant: Type selects which fields are set.
//
// # Multi-Instance Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several deployments can share one Redis server.
//
// # Redis Schema
//
// Layouts: flowboard:{instance_name}:layout:{user_id}:{project_id}
//
// Change events channel: flowboard:{instance_name}:change_events
//
// # Usage Example
//
//	client, err := board.NewClient(&redis.Options{Addr: "localhost:6379"}, "prod")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	key := board.LayoutKey("prod", userID, projectID)
//	if err := client.SetLayout(ctx, key, layout, 5*time.Minute); err != nil {
//		log.Printf("tier-2 write failed: %v", err)
//	}
package board
