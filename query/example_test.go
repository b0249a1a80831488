package query_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/querycache/query"
)

func ExampleNewQuery() {
	client, _ := query.New(query.Config{})
	defer client.Close()

	calls := 0
	todos, _ := query.NewQuery(client, "todos", func(context.Context) ([]string, error) {
		calls++
		return []string{"write docs", "ship"}, nil
	})

	ctx := context.Background()
	_, _ = todos.Ensure(ctx)
	_, _ = todos.Ensure(ctx) // fresh, served from the cache

	st := todos.State()
	fmt.Println(st.Data, st.IsSuccess, calls)
	// Output:
	// [write docs ship] true 1
}

func ExampleNewInfiniteQuery() {
	client, _ := query.New(query.Config{})
	defer client.Close()

	feed, _ := query.NewInfiniteQuery(client, "feed", func(_ context.Context, page int) (string, error) {
		return fmt.Sprintf("page %d", page), nil
	}, query.PageConfig[string, int]{
		InitialPageParam: 1,
		NextPageParam: func(_ string, all []string, last int) (int, bool) {
			return last + 1, len(all) < 3
		},
	})

	ctx := context.Background()
	for feed.HasNextPage() {
		_, _ = feed.FetchNextPage(ctx)
	}

	data := feed.Data()
	fmt.Println(data.Pages, data.PageParams)
	// Output:
	// [page 1 page 2 page 3] [1 2 3]
}

func ExampleNewMutation() {
	client, _ := query.New(query.Config{})
	defer client.Close()

	todos, _ := query.NewQuery(client, "todos", func(context.Context) (int, error) {
		return 2, nil
	})
	_, _ = todos.Refetch(context.Background())

	add, _ := query.NewMutation(client, func(_ context.Context, title string) (string, error) {
		return "created " + title, nil
	}, query.MutationConfig[string]{
		OnSuccess: func(msg string) {
			fmt.Println(msg)
			_ = client.Invalidate(context.Background(), "todos")
		},
	})

	_, _ = add.Mutate(context.Background(), "ship")
	fmt.Println(add.State().IsSuccess)
	// Output:
	// created ship
	// true
}

func ExampleKey() {
	key, _ := query.Key("todos")
	fmt.Println(key)
	// Output:
	// todos
}
