package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/endure/endure-sdk-go/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates recording a completion once.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	c := &stores.Completion{
		Key:                "order-42/validate_order",
		WorkflowInstanceID: "order-42",
		BaseName:           "validate_order",
		Status:             "succeeded",
		Output:             []byte(`true`),
		Attempts:           1,
		CompletedAt:        time.Now(),
	}

	first, _ := store.PutCompletion(ctx, c)
	second, _ := store.PutCompletion(ctx, c)
	fmt.Println(first, second)
	// Output: true false
}
