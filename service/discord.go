package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	pkgErrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"invite_tracker/models"
	"invite_tracker/tracker"
	"invite_tracker/utils"
)

const eventTimeout = 30 * time.Second

// Gateway connects a discord session to the tracker: it lists invites for the
// tracker and turns gateway events into tracker calls. Events of one guild
// reach the tracker in gateway order.
type Gateway struct {
	session *discordgo.Session
	tracker *tracker.Tracker
	events  *dispatcher
}

func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, pkgErrors.Wrap(err, "create discord session")
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildInvites
	// handlers only enqueue, ordering is kept by the gateway dispatcher
	session.SyncEvents = true
	return session, nil
}

func NewGateway(session *discordgo.Session) *Gateway {
	return &Gateway{session: session, events: newDispatcher()}
}

// Close drops pending events and waits for the running ones
func (g *Gateway) Close() {
	g.events.close()
}

// FetchInvites lists the guild's invites through the REST api
func (g *Gateway) FetchInvites(ctx context.Context, guildID string) ([]models.InviteRecord, error) {
	invites, err := g.session.GuildInvites(guildID, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil &&
			restErr.Response.StatusCode == http.StatusForbidden {
			return nil, pkgErrors.Wrap(tracker.ErrFetchForbidden, err.Error())
		}
		return nil, pkgErrors.Wrapf(err, "list invites of guild %s", guildID)
	}

	records := make([]models.InviteRecord, 0, len(invites))
	for _, invite := range invites {
		records = append(records, InviteRecord(guildID, invite))
	}
	return records, nil
}

// InviteRecord converts a discord invite, a max uses of 0 means unlimited
func InviteRecord(guildID string, invite *discordgo.Invite) models.InviteRecord {
	record := models.InviteRecord{
		GuildID:   guildID,
		Code:      invite.Code,
		Uses:      invite.Uses,
		CreatedAt: invite.CreatedAt,
		ExpiresAt: invite.ExpiresAt,
	}
	if invite.Inviter != nil {
		inviterID := invite.Inviter.ID
		record.InviterID = &inviterID
	}
	if invite.MaxUses > 0 {
		maxUses := invite.MaxUses
		record.MaxUses = &maxUses
	}
	if record.ExpiresAt == nil && invite.MaxAge > 0 && !invite.CreatedAt.IsZero() {
		expiresAt := invite.CreatedAt.Add(time.Duration(invite.MaxAge) * time.Second)
		record.ExpiresAt = &expiresAt
	}
	return record
}

// Attach registers the gateway handlers for t. It must be called before the
// session is opened.
func (g *Gateway) Attach(t *tracker.Tracker) {
	g.tracker = t
	g.session.AddHandler(g.onReady)
	g.session.AddHandler(g.onGuildCreate)
	g.session.AddHandler(g.onGuildDelete)
	g.session.AddHandler(g.onMemberAdd)
	g.session.AddHandler(g.onMemberRemove)
	g.session.AddHandler(g.onInviteCreate)
	g.session.AddHandler(g.onInviteDelete)
}

func eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), eventTimeout)
}

func (g *Gateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	guildIDs := make([]string, 0, len(r.Guilds))
	for _, guild := range r.Guilds {
		guildIDs = append(guildIDs, guild.ID)
	}
	utils.Logger.Info("gateway ready", zap.String("user", r.User.Username), zap.Int("guilds", len(guildIDs)))

	// spans every guild, must not hold up the event loop
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*eventTimeout)
		defer cancel()
		g.tracker.Ready(ctx, guildIDs)
	}()
}

// guild create is sent for every guild after ready and when the bot joins one
func (g *Gateway) onGuildCreate(_ *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	g.events.dispatch(event.ID, func() {
		ctx, cancel := eventContext()
		defer cancel()
		if err := g.tracker.SyncGuild(ctx, event.ID); err != nil {
			utils.GuildLogger(event.ID).Warn("sync on guild create failed", zap.Error(err))
		}
	})
}

func (g *Gateway) onGuildDelete(_ *discordgo.Session, event *discordgo.GuildDelete) {
	// unavailable guilds are an outage, not a removal
	if event.Guild == nil || event.Unavailable {
		return
	}
	g.events.dispatch(event.ID, func() {
		ctx, cancel := eventContext()
		defer cancel()
		if err := g.tracker.GuildRemove(ctx, event.ID); err != nil && !errors.Is(err, tracker.ErrUnknownGuild) {
			utils.GuildLogger(event.ID).Warn("guild remove failed", zap.Error(err))
		}
	})
}

func (g *Gateway) onMemberAdd(_ *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.User == nil || event.User.Bot {
		return
	}
	g.events.dispatch(event.GuildID, func() {
		ctx, cancel := eventContext()
		defer cancel()
		g.tracker.MemberJoin(ctx, tracker.MemberJoin{
			GuildID:  event.GuildID,
			MemberID: event.User.ID,
			JoinedAt: event.JoinedAt,
		})
	})
}

func (g *Gateway) onMemberRemove(_ *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.User == nil {
		return
	}
	g.events.dispatch(event.GuildID, func() {
		ctx, cancel := eventContext()
		defer cancel()
		if err := g.tracker.MemberLeave(ctx, event.GuildID, event.User.ID); err != nil {
			utils.GuildLogger(event.GuildID).Warn("member leave failed",
				zap.String("member_id", event.User.ID), zap.Error(err))
		}
	})
}

func (g *Gateway) onInviteCreate(_ *discordgo.Session, event *discordgo.InviteCreate) {
	if event.Invite == nil {
		return
	}
	g.events.dispatch(event.GuildID, func() {
		ctx, cancel := eventContext()
		defer cancel()
		if err := g.tracker.InviteCreate(ctx, event.GuildID, event.Code); err != nil {
			utils.GuildLogger(event.GuildID).Warn("refresh on invite create failed", zap.Error(err))
		}
	})
}

func (g *Gateway) onInviteDelete(_ *discordgo.Session, event *discordgo.InviteDelete) {
	g.events.dispatch(event.GuildID, func() {
		ctx, cancel := eventContext()
		defer cancel()
		if err := g.tracker.InviteDelete(ctx, event.GuildID, event.Code); err != nil {
			utils.GuildLogger(event.GuildID).Warn("refresh on invite delete failed", zap.Error(err))
		}
	})
}
