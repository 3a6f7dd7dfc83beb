package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	if err := c.Set(ctx, "fact:list:{}", []byte(`{"a":1}`), time.Hour); err != nil {
		t.Fatalf("запись: %v", err)
	}
	got, ok, err := c.Get(ctx, "fact:list:{}")
	if err != nil || !ok {
		t.Fatalf("ожидали попадание, ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, []byte(`{"a":1}`)) {
		t.Fatalf("значение изменилось: %s", got)
	}
	if err := c.Delete(ctx, "fact:list:{}"); err != nil {
		t.Fatalf("удаление: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "fact:list:{}"); ok {
		t.Fatalf("после удаления ожидали промах")
	}
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemory().WithClock(func() time.Time { return now })
	_ = c.Set(ctx, "k", []byte("v"), time.Minute)

	now = now.Add(59 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatalf("значение истекло раньше TTL")
	}
	now = now.Add(time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("значение живёт дольше TTL")
	}
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	for _, k := range []string{
		"fact:feed:user:1:{}",
		"fact:feed:user:2:{}",
		"fact:category-feed:user:1:{}",
		"category:list:{}",
	} {
		_ = c.Set(ctx, k, []byte("x"), time.Hour)
	}

	n, err := c.DeleteByPattern(ctx, "fact:feed:*")
	if err != nil {
		t.Fatalf("удаление по шаблону: %v", err)
	}
	if n != 2 {
		t.Fatalf("ожидали 2 удалённых ключа, получили %d", n)
	}
	keys, _ := c.Keys(ctx, "*")
	want := []string{"category:list:{}", "fact:category-feed:user:1:{}"}
	if len(keys) != len(want) {
		t.Fatalf("остались ключи %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("ключ %d: ожидали %s, получили %s", i, want[i], keys[i])
		}
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"fact:*", "fact:1", true},
		{"fact:*", "category:1", false},
		{"fact:list:*", `fact:list:{"page":1}`, true},
		{"fact:feed:user:1:*", "fact:feed:user:10:{}", false},
		{"fact:feed:user:1?:*", "fact:feed:user:10:{}", true},
		{"h[ae]llo", "hello", true},
		{"h[^e]llo", "hello", false},
		{"h[a-c]llo", "hbllo", true},
		{`a\*b:*`, "a*b:x", true},
		{`a\*b:*`, "axb:x", false},
		{"*", "", true},
		{"a*b*c", "a/x/b/y/c", true},
		{"[abc", "[abc", true},
	}
	for _, tc := range cases {
		t.Run(tc.pattern+"|"+tc.key, func(t *testing.T) {
			if got := Match(tc.pattern, tc.key); got != tc.want {
				t.Fatalf("Match(%q, %q) = %v, ожидали %v", tc.pattern, tc.key, got, tc.want)
			}
		})
	}
}

func TestEscapeGlobMatchesLiterally(t *testing.T) {
	id := "we*ird?[id]"
	pattern := "fact:feed:anon:" + EscapeGlob(id) + ":*"
	if !Match(pattern, "fact:feed:anon:we*ird?[id]:{}") {
		t.Fatalf("экранированный шаблон не совпал с исходным ключом")
	}
	if Match(pattern, "fact:feed:anon:weXirdY[id]:{}") {
		t.Fatalf("экранированный шаблон совпал с чужим ключом")
	}
}
