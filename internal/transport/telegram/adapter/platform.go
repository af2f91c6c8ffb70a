package adapter

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "fsubbot/internal/transport"
)

// ResolveChat fetches live chat metadata. A chat whose invite link cannot be
// obtained is an error: users would have no way to join it.
func (a *Adapter) ResolveChat(ctx context.Context, chatID int64) (kit.ChatInfo, error) {
	if err := ctx.Err(); err != nil {
		return kit.ChatInfo{}, err
	}
	chat, err := a.bot.ChatByID(chatID)
	if err != nil {
		return kit.ChatInfo{}, classify(err)
	}
	info := kit.ChatInfo{
		ID:         chat.ID,
		Kind:       kindOf(chat.Type),
		Title:      chat.Title,
		InviteLink: strings.TrimSpace(chat.InviteLink),
	}
	if info.InviteLink == "" {
		link, err := a.bot.InviteLink(chat)
		if err != nil {
			return kit.ChatInfo{}, classify(err)
		}
		info.InviteLink = strings.TrimSpace(link)
	}
	if info.InviteLink == "" {
		return kit.ChatInfo{}, errors.New("chat has no invite link")
	}
	return info, nil
}

func kindOf(t tele.ChatType) kit.ChatKind {
	switch t {
	case tele.ChatGroup, tele.ChatSuperGroup:
		return kit.KindGroup
	default:
		return kit.KindChannel
	}
}

func (a *Adapter) ChatMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return classify(err)
	}
	switch m.Role {
	case tele.Left, tele.Kicked:
		return kit.ErrNotMember
	}
	return nil
}

func (a *Adapter) CopyMessage(ctx context.Context, to kit.ChatTarget, src kit.MessageRef, opt *kit.CopyOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if opt == nil {
		opt = &kit.CopyOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{Protected: opt.Protect, ThreadID: to.ThreadID}
	if opt.ReplyTo != 0 {
		sendOpt.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && rm != nil {
		sendOpt.ReplyMarkup = rm
	}
	stored := &tele.StoredMessage{MessageID: strconv.Itoa(src.MessageID), ChatID: src.ChatID}
	msg, err := a.bot.Copy(chat, stored, sendOpt)
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := &tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
	return classify(a.bot.Delete(stored))
}
