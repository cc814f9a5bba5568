package domain

type ChannelID string

// Topic is the relay scope (broadcast + presence) of a voice channel.
type Topic string

func TopicFor(id ChannelID) Topic {
	return Topic("voice:" + string(id))
}
