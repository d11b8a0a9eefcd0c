package pebbledb

import (
	"fmt"

	"github.com/relaynet/channel-bridge/entities"
)

func (s *Store) StoreTicket(ticket entities.SignedTicket) error {
	value, err := ticket.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding ticket: %w", err)
	}
	return s.Put(ticketKey(ticket.Ticket.ChannelID, ticket.Ticket.Challenge), value)
}

func (s *Store) GetTicket(channelID, challenge entities.Hash) (entities.SignedTicket, error) {
	value, err := s.Get(ticketKey(channelID, challenge))
	if err != nil {
		return entities.SignedTicket{}, err
	}
	var ticket entities.SignedTicket
	if err := ticket.UnmarshalBinary(value); err != nil {
		return entities.SignedTicket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTickets(channelID entities.Hash) ([]entities.SignedTicket, error) {
	prefix := ticketPrefix(channelID)

	var tickets []entities.SignedTicket
	err := s.Scan(prefix, prefixUpperBound(prefix), false, func(_, value []byte) (bool, error) {
		var ticket entities.SignedTicket
		if err := ticket.UnmarshalBinary(value); err != nil {
			return false, err
		}
		tickets = append(tickets, ticket)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning tickets: %w", err)
	}
	return tickets, nil
}

func (s *Store) DeleteTicket(channelID, challenge entities.Hash) error {
	return s.Delete(ticketKey(channelID, challenge))
}

func (s *Store) HasNonce(channelID entities.Hash, nonce []byte) (bool, error) {
	return s.Has(nonceKey(channelID, nonce))
}

func (s *Store) PutNonce(channelID entities.Hash, nonce []byte) error {
	return s.Put(nonceKey(channelID, nonce), []byte{0x01})
}
