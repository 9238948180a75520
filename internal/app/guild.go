package app

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/lo"

	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
)

var errNoGuilds = errors.New("bot reports no guilds")

type guildLister interface {
	Guilds(ctx context.Context) ([]proto.Guild, error)
}

type guildPoller interface {
	SetGuild(id proto.Snowflake)
}

type retargeter interface {
	Retarget(ctx context.Context, prev proto.Snowflake)
}

// selector changes the selected guild. Local playback for the old guild is
// dropped before the pollers move on.
type selector struct {
	store  *state.Store
	poller guildPoller
	coord  retargeter

	mu sync.Mutex
}

func (s *selector) Select(ctx context.Context, id proto.Snowflake) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.store.Guild()
	if prev == id {
		return nil
	}
	s.coord.Retarget(ctx, prev)
	s.poller.SetGuild(id)
	log.Infof("guild selected: %s", id)
	return nil
}

// initial selects want, or the first guild the bot reports when want is
// empty. A configured guild the bot is not in is still selected.
func (s *selector) initial(ctx context.Context, api guildLister, want proto.Snowflake) error {
	if want != "" {
		return s.Select(ctx, want)
	}
	guilds, err := api.Guilds(ctx)
	if err != nil {
		return err
	}
	g, ok := lo.First(guilds)
	if !ok {
		return errNoGuilds
	}
	s.store.SetGuilds(guilds)
	return s.Select(ctx, g.ID)
}
